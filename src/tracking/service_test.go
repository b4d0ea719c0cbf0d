package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fleetadmin/src/model"
	"fleetadmin/src/noise"
	"fleetadmin/src/repository"
)

// helper to create a new in memory gorm DB and migrate schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}

	if err := db.AutoMigrate(&model.TrackedError{}, &model.Ticket{}, &model.User{}); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}

	// Same constraint production runs: one unresolved row per fingerprint.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracked_errors_active_fingerprint
		 ON tracked_errors (fingerprint) WHERE resolved = false`,
	).Error; err != nil {
		t.Fatalf("failed to create active-fingerprint index: %v", err)
	}

	return db
}

type stubUsers struct {
	admin *model.User
	err   error
}

func (s *stubUsers) FindAdministrator(_ context.Context) (*model.User, error) {
	return s.admin, s.err
}

type sentMail struct {
	to      string
	subject string
	text    string
}

type stubMailer struct {
	configured bool
	sendErr    error
	sent       []sentMail
}

func (s *stubMailer) IsConfigured() bool {
	return s.configured
}

func (s *stubMailer) Send(_ context.Context, to, subject, _, text string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentMail{to: to, subject: subject, text: text})
	return nil
}

type stubTracker struct {
	enabled   bool
	key       string
	url       string
	createErr error
	created   int
}

func (s *stubTracker) Enabled() bool {
	return s.enabled
}

func (s *stubTracker) CreateIssue(_ context.Context, _, _ string) (string, string, error) {
	s.created++
	if s.createErr != nil {
		return "", "", s.createErr
	}
	return s.key, s.url, nil
}

type testHarness struct {
	svc     *Service
	db      *gorm.DB
	mailer  *stubMailer
	tracker *stubTracker
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db := newTestDB(t)
	nullLogger, _ := logrustest.NewNullLogger()

	admin := &model.User{UserName: "ops", FirstName: "Olivia", Email: "ops@fleetadmin.test", Role: model.RoleAdministrator}
	if err := db.Create(admin).Error; err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	mailer := &stubMailer{configured: true}
	tracker := &stubTracker{enabled: true, key: "OPS-1", url: "https://tracker.test/OPS-1"}

	svc := NewService(
		logrus.NewEntry(nullLogger),
		repository.NewTrackedErrorRepository().WithDB(db),
		repository.NewTicketRepository().WithDB(db),
		&stubUsers{admin: admin},
		noise.NewFilter(nil),
		tracker,
		mailer,
		Config{DedupWindowMinutes: 60, StatsLimit: 1000},
	)

	// Run background sync inline so tests can assert on its effects.
	svc.background = func(fn func()) { fn() }

	return &testHarness{svc: svc, db: db, mailer: mailer, tracker: tracker}
}

func paymentOutage() (ErrorReport, RequestContext) {
	return ErrorReport{
			ErrorType:   model.ErrorTypeConnection,
			ErrorSource: model.SourcePayment,
			Severity:    model.SeverityCritical,
			Message:     "ECONNREFUSED to payment gateway",
			StackTrace:  "at charge (payment.go:42)",
		}, RequestContext{
			Route:  "/api/payment/charge",
			Method: "POST",
		}
}

// A repeat-friendly error: nothing in the message is transient, so the noise
// filter never suppresses it.
func bookingDeadlock() (ErrorReport, RequestContext) {
	return ErrorReport{
			ErrorType:   model.ErrorTypeDatabase,
			ErrorSource: model.SourceDatabase,
			Severity:    model.SeverityHigh,
			Message:     "deadlock detected while updating booking 1234",
		}, RequestContext{
			Route:  "/api/bookings",
			Method: "PUT",
		}
}

func TestTrackErrorNewCriticalPaymentError(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := paymentOutage()

	result, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.IsNew {
		t.Fatalf("expected a new record")
	}
	if result.Filtered {
		t.Fatalf("payment outage must not be filtered")
	}
	if result.TicketID == nil {
		t.Fatalf("expected a ticket to be created")
	}
	if result.Priority != model.PriorityUrgent {
		t.Fatalf("expected urgente, got %s", result.Priority)
	}

	var record model.TrackedError
	if err := h.db.First(&record, result.ErrorID).Error; err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.OccurrenceCount != 1 {
		t.Fatalf("expected occurrence count 1, got %d", record.OccurrenceCount)
	}
	if !record.IsTransient {
		t.Fatalf("ECONNREFUSED should be flagged transient")
	}
	if record.GroupKey != "payment_errors" {
		t.Fatalf("expected payment_errors group, got %q", record.GroupKey)
	}
	if record.TicketID == nil || *record.TicketID != *result.TicketID {
		t.Fatalf("ticket back-reference missing on record")
	}

	var ticket model.Ticket
	if err := h.db.First(&ticket, *result.TicketID).Error; err != nil {
		t.Fatalf("ticket not persisted: %v", err)
	}
	if !ticket.AutoCreated {
		t.Fatalf("ticket should be flagged auto-created")
	}
	if ticket.ErrorFingerprint != record.Fingerprint {
		t.Fatalf("ticket fingerprint back-reference mismatch")
	}
	if ticket.AssigneeID == nil {
		t.Fatalf("ticket should be assigned to the administrator")
	}
	if !strings.Contains(ticket.Description, report.Message) {
		t.Fatalf("ticket description must embed the verbatim message")
	}
	if !strings.Contains(ticket.Description, record.Fingerprint) {
		t.Fatalf("ticket description must embed the fingerprint")
	}

	// Urgent priority triggers the notification.
	if len(h.mailer.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(h.mailer.sent))
	}
	if h.mailer.sent[0].to != "ops@fleetadmin.test" {
		t.Fatalf("notification went to %s", h.mailer.sent[0].to)
	}

	// Background sync ran inline and stored the external reference.
	if h.tracker.created != 1 {
		t.Fatalf("expected 1 external issue, got %d", h.tracker.created)
	}
	if err := h.db.First(&ticket, ticket.ID).Error; err != nil {
		t.Fatalf("re-read ticket: %v", err)
	}
	if ticket.ExternalKey != "OPS-1" {
		t.Fatalf("expected external key OPS-1, got %q", ticket.ExternalKey)
	}
}

func TestTrackErrorFilteredNoiseIsNotPersisted(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.svc.TrackError(context.Background(), ErrorReport{
		ErrorType:   model.ErrorTypeNotFound,
		ErrorSource: model.SourceInternal,
		Severity:    model.SeverityLow,
		Message:     "GET /favicon.ico 404",
	}, RequestContext{Route: "/favicon.ico", Method: "GET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Filtered {
		t.Fatalf("favicon 404 should be filtered")
	}
	if result.FilterReason == "" {
		t.Fatalf("expected a filter reason")
	}

	var count int64
	h.db.Model(&model.TrackedError{}).Count(&count)
	if count != 0 {
		t.Fatalf("filtered errors must not be persisted, found %d", count)
	}
}

func TestTrackErrorRepeatMergesWithinWindow(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()

	first, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same logical error with different embedded ids.
	report.Message = "deadlock detected while updating booking 99881"
	second, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.IsNew {
		t.Fatalf("repeat within window must merge, not create")
	}
	if second.ErrorID != first.ErrorID {
		t.Fatalf("repeat merged into wrong record: %d vs %d", second.ErrorID, first.ErrorID)
	}
	if second.TicketID == nil || *second.TicketID != *first.TicketID {
		t.Fatalf("repeat must reuse the existing ticket")
	}

	var count int64
	h.db.Model(&model.TrackedError{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single record, found %d", count)
	}

	var record model.TrackedError
	if err := h.db.First(&record, first.ErrorID).Error; err != nil {
		t.Fatalf("re-read record: %v", err)
	}
	if record.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", record.OccurrenceCount)
	}

	var ticketCount int64
	h.db.Model(&model.Ticket{}).Count(&ticketCount)
	if ticketCount != 1 {
		t.Fatalf("expected a single ticket, found %d", ticketCount)
	}
}

func TestStaleUnresolvedRecurrenceMergesOutsideWindow(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return base }

	first, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two hours later the window has lapsed, but the row is still
	// unresolved and the unique index forbids a second one. The
	// occurrence must merge, never fail.
	h.svc.now = func() time.Time { return base.Add(2 * time.Hour) }

	result, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("recurrence of a stale unresolved error must not fail: %v", err)
	}

	if result.IsNew {
		t.Fatalf("expected a merge into the stale unresolved record")
	}
	if result.ErrorID != first.ErrorID {
		t.Fatalf("merged into record %d, want %d", result.ErrorID, first.ErrorID)
	}

	var count int64
	h.db.Model(&model.TrackedError{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single unresolved record, found %d", count)
	}

	var record model.TrackedError
	if err := h.db.First(&record, first.ErrorID).Error; err != nil {
		t.Fatalf("re-read record: %v", err)
	}
	if record.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", record.OccurrenceCount)
	}
	if !record.LastOccurrence.After(record.FirstOccurrence) {
		t.Fatalf("last occurrence not advanced: %+v", record)
	}
}

func TestSeverityNeverDowngraded(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()
	report.Severity = model.SeverityCritical

	first, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report.Severity = model.SeverityLow
	if _, err := h.svc.TrackError(context.Background(), report, reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var record model.TrackedError
	if err := h.db.First(&record, first.ErrorID).Error; err != nil {
		t.Fatalf("re-read record: %v", err)
	}
	if record.Severity != model.SeverityCritical {
		t.Fatalf("severity was downgraded to %s", record.Severity)
	}
}

func TestHighPriorityNotificationFiresOnQualifyingRepeats(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()
	report.Severity = model.SeverityCritical

	if _, err := h.svc.TrackError(context.Background(), report, reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.svc.TrackError(context.Background(), report, reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Critical database error scores alta/urgente both times.
	if len(h.mailer.sent) != 2 {
		t.Fatalf("expected a notification per qualifying occurrence, got %d", len(h.mailer.sent))
	}
}

func TestLowPriorityGetsTicketButNoNotification(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.svc.TrackError(context.Background(), ErrorReport{
		ErrorType:   model.ErrorTypeValidation,
		ErrorSource: model.SourceInternal,
		Severity:    model.SeverityLow,
		Message:     "missing field name in request body",
	}, RequestContext{Route: "/api/services", Method: "POST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Priority != model.PriorityLow {
		t.Fatalf("expected baja, got %s", result.Priority)
	}
	if result.TicketID == nil {
		t.Fatalf("tickets are created regardless of bucket")
	}
	if len(h.mailer.sent) != 0 {
		t.Fatalf("baja errors must not notify, got %d mails", len(h.mailer.sent))
	}
}

func TestResolveThenRecurrenceStartsFresh(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()

	first, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.svc.Resolve(context.Background(), first.ErrorID, 7); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var resolved model.TrackedError
	if err := h.db.First(&resolved, first.ErrorID).Error; err != nil {
		t.Fatalf("re-read record: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedAt == nil || resolved.ResolvedBy == nil || *resolved.ResolvedBy != 7 {
		t.Fatalf("resolution state incomplete: %+v", resolved)
	}

	// Resolving twice reports not found.
	if err := h.svc.Resolve(context.Background(), first.ErrorID, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double resolve, got %v", err)
	}

	// The same error recurs; it must not reopen the resolved record.
	second, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.IsNew {
		t.Fatalf("recurrence after resolve must start a fresh record")
	}
	if second.ErrorID == first.ErrorID {
		t.Fatalf("recurrence merged into the resolved record")
	}
}

// failingTicketStore rejects every write.
type failingTicketStore struct{}

func (failingTicketStore) Create(context.Context, *model.Ticket) error {
	return errors.New("ticket backend down")
}

func (failingTicketStore) Update(context.Context, uint, map[string]interface{}) error {
	return errors.New("ticket backend down")
}

func TestTicketFailureDoesNotFailTracking(t *testing.T) {
	h := newTestHarness(t)
	h.svc.tickets = failingTicketStore{}

	report, reqCtx := bookingDeadlock()
	result, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("tracking must survive ticket failures, got %v", err)
	}

	if result.TicketID != nil {
		t.Fatalf("expected no ticket id on failure")
	}

	var count int64
	h.db.Model(&model.TrackedError{}).Count(&count)
	if count != 1 {
		t.Fatalf("the record must still be persisted, found %d", count)
	}
}

func TestTrackerSyncFailureIsIsolated(t *testing.T) {
	h := newTestHarness(t)
	h.tracker.createErr = errors.New("tracker unavailable")

	report, reqCtx := bookingDeadlock()
	result, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("tracking must survive sync failures, got %v", err)
	}
	if result.TicketID == nil {
		t.Fatalf("local ticket must still be created")
	}

	var ticket model.Ticket
	if err := h.db.First(&ticket, *result.TicketID).Error; err != nil {
		t.Fatalf("re-read ticket: %v", err)
	}
	if ticket.ExternalKey != "" {
		t.Fatalf("external key should stay empty on sync failure")
	}
}

// scriptedErrorStore drives the duplicate-key race path.
type scriptedErrorStore struct {
	ErrorStore
	winner      *model.TrackedError
	createCalls int
}

func (s *scriptedErrorStore) FindActiveByFingerprint(context.Context, string, time.Time) (*model.TrackedError, error) {
	return nil, nil
}

func (s *scriptedErrorStore) FindUnresolvedByFingerprint(context.Context, string) (*model.TrackedError, error) {
	return s.winner, nil
}

func (s *scriptedErrorStore) Create(context.Context, *model.TrackedError) error {
	s.createCalls++
	return gorm.ErrDuplicatedKey
}

func (s *scriptedErrorStore) RegisterRepeat(context.Context, uint, map[string]interface{}) error {
	return nil
}

func (s *scriptedErrorStore) Update(context.Context, uint, map[string]interface{}) error {
	return nil
}

func TestLostFirstOccurrenceRaceMergesIntoWinner(t *testing.T) {
	h := newTestHarness(t)
	report, reqCtx := bookingDeadlock()

	winner := &model.TrackedError{
		ID:              42,
		Fingerprint:     Fingerprint(report.ErrorType, report.ErrorSource, report.Message, reqCtx.Route),
		ErrorType:       report.ErrorType,
		ErrorSource:     report.ErrorSource,
		Severity:        report.Severity,
		OccurrenceCount: 1,
	}
	ticketID := uint(9)
	winner.TicketID = &ticketID

	h.svc.errors = &scriptedErrorStore{winner: winner}

	result, err := h.svc.TrackError(context.Background(), report, reqCtx)
	if err != nil {
		t.Fatalf("race loser must merge, got %v", err)
	}

	if result.IsNew {
		t.Fatalf("race loser must not report a new record")
	}
	if result.ErrorID != 42 {
		t.Fatalf("expected merge into record 42, got %d", result.ErrorID)
	}
	if result.TicketID == nil || *result.TicketID != 9 {
		t.Fatalf("expected the winner's ticket to be reused")
	}
}

func TestGetStats(t *testing.T) {
	h := newTestHarness(t)

	outage, outageCtx := paymentOutage()
	if _, err := h.svc.TrackError(context.Background(), outage, outageCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadlock, deadlockCtx := bookingDeadlock()
	first, err := h.svc.TrackError(context.Background(), deadlock, deadlockCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.svc.Resolve(context.Background(), first.ErrorID, 1); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	stats, err := h.svc.GetStats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.Unresolved != 1 {
		t.Fatalf("expected 1 unresolved, got %d", stats.Unresolved)
	}
	if stats.BySource[model.SourcePayment] != 1 {
		t.Fatalf("expected 1 unresolved payment error, got %d", stats.BySource[model.SourcePayment])
	}
	if stats.ByPriority[model.PriorityUrgent] != 1 {
		t.Fatalf("expected 1 urgente error, got %d", stats.ByPriority[model.PriorityUrgent])
	}
	if stats.NoiseFilter == nil {
		t.Fatalf("expected noise filter stats")
	}
}

func TestPublisherReceivesTrackedErrors(t *testing.T) {
	h := newTestHarness(t)

	var published []model.TrackedError
	h.svc.SetPublisher(func(record model.TrackedError) {
		published = append(published, record)
	})

	report, reqCtx := bookingDeadlock()
	if _, err := h.svc.TrackError(context.Background(), report, reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.svc.TrackError(context.Background(), report, reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(published))
	}
	if published[1].OccurrenceCount != 2 {
		t.Fatalf("repeat event should carry the updated count, got %d", published[1].OccurrenceCount)
	}
}
