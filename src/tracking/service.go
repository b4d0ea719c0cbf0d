package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetadmin/src/model"
	"fleetadmin/src/noise"
	"fleetadmin/src/priority"
)

// ErrNotFound is returned by Resolve when the record does not exist or was
// already resolved.
var ErrNotFound = errors.New("tracked error not found or already resolved")

// metadataMaxBytes caps the serialized metadata stored on a record and
// embedded in ticket descriptions.
const metadataMaxBytes = 8192

// ErrorStore is the persistence contract for tracked errors.
type ErrorStore interface {
	Create(ctx context.Context, record *model.TrackedError) error
	FindActiveByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*model.TrackedError, error)
	FindUnresolvedByFingerprint(ctx context.Context, fingerprint string) (*model.TrackedError, error)
	RegisterRepeat(ctx context.Context, id uint, updates map[string]interface{}) error
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	ListUnresolved(ctx context.Context, limit int) ([]model.TrackedError, error)
	ListAll(ctx context.Context, limit int) ([]model.TrackedError, error)
	Resolve(ctx context.Context, id uint, resolvedBy uint, resolvedAt time.Time) (bool, error)
}

// TicketStore is the persistence contract for tickets.
type TicketStore interface {
	Create(ctx context.Context, ticket *model.Ticket) error
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
}

// UserDirectory resolves admin identities for assignment and notification.
type UserDirectory interface {
	FindAdministrator(ctx context.Context) (*model.User, error)
}

// IssueTracker mirrors tickets to an external tracker, best effort.
type IssueTracker interface {
	Enabled() bool
	CreateIssue(ctx context.Context, title, description string) (key string, url string, err error)
}

// Mailer delivers high-priority alert emails.
type Mailer interface {
	IsConfigured() bool
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// ErrorReport is the classified error handed in by the error boundary.
type ErrorReport struct {
	ErrorType   model.ErrorType
	ErrorSource model.ErrorSource
	Severity    model.Severity
	Message     string
	StackTrace  string
}

// RequestContext carries the request-scoped context of the failure.
type RequestContext struct {
	Route    string
	Method   string
	UserID   *uint
	Metadata map[string]interface{}
}

// TrackResult is the outcome of one tracking invocation.
type TrackResult struct {
	ErrorID      uint
	TicketID     *uint
	IsNew        bool
	Filtered     bool
	FilterReason string
	Priority     model.Priority
}

// Service ties noise filtering and priority calculation to persistence and
// side effects. Persistence failures propagate; every side-effect path
// (tickets, external sync, email) is best effort.
type Service struct {
	logger  *logrus.Entry
	errors  ErrorStore
	tickets TicketStore
	users   UserDirectory
	filter  *noise.Filter
	tracker IssueTracker
	mailer  Mailer

	dedupWindow time.Duration
	statsLimit  int

	now func() time.Time

	// background runs the detached issue-tracker sync. Overridable in
	// tests to run synchronously.
	background func(fn func())

	// publish fans a freshly tracked occurrence out to the live feed.
	// Must not block.
	publish func(record model.TrackedError)
}

func NewService(
	logger *logrus.Entry,
	errors ErrorStore,
	tickets TicketStore,
	users UserDirectory,
	filter *noise.Filter,
	tracker IssueTracker,
	mailer Mailer,
	cfg Config,
) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if filter == nil {
		filter = noise.NewFilter(nil)
	}
	if cfg.DedupWindowMinutes <= 0 {
		cfg.DedupWindowMinutes = 60
	}
	if cfg.StatsLimit <= 0 {
		cfg.StatsLimit = 1000
	}

	return &Service{
		logger:      logger,
		errors:      errors,
		tickets:     tickets,
		users:       users,
		filter:      filter,
		tracker:     tracker,
		mailer:      mailer,
		dedupWindow: time.Duration(cfg.DedupWindowMinutes) * time.Minute,
		statsLimit:  cfg.StatsLimit,
		now:         time.Now,
		background:  func(fn func()) { go fn() },
		publish:     func(model.TrackedError) {},
	}
}

// SetPublisher wires the live-feed hook. The hook must not block.
func (s *Service) SetPublisher(publish func(record model.TrackedError)) {
	if publish != nil {
		s.publish = publish
	}
}

// Filter exposes the noise filter, e.g. for stats endpoints.
func (s *Service) Filter() *noise.Filter {
	return s.filter
}

// TrackError is the entry point invoked by the application's error boundary.
// It filters noise, merges repeats within the dedup window, recomputes
// priority and drives ticket/alert side effects. Only persistence failures
// are returned to the caller.
func (s *Service) TrackError(ctx context.Context, report ErrorReport, reqCtx RequestContext) (*TrackResult, error) {
	verdict := s.filter.Evaluate(noise.Input{
		Message:    report.Message,
		StackTrace: report.StackTrace,
		Route:      reqCtx.Route,
		Metadata:   reqCtx.Metadata,
	})

	if !verdict.ShouldProcess {
		s.logger.WithFields(logrus.Fields{
			"reason": verdict.Reason,
			"route":  reqCtx.Route,
		}).Debug("error filtered, not tracked")

		return &TrackResult{Filtered: true, FilterReason: verdict.Reason}, nil
	}

	fingerprint := Fingerprint(report.ErrorType, report.ErrorSource, report.Message, reqCtx.Route)
	since := s.now().Add(-s.dedupWindow)

	existing, err := s.errors.FindActiveByFingerprint(ctx, fingerprint, since)
	if err != nil {
		return nil, fmt.Errorf("lookup tracked error %s: %w", fingerprint, err)
	}

	if existing != nil {
		return s.trackRepeat(ctx, existing, report, reqCtx, verdict)
	}

	return s.trackNew(ctx, fingerprint, report, reqCtx, verdict)
}

func (s *Service) trackRepeat(
	ctx context.Context,
	existing *model.TrackedError,
	report ErrorReport,
	reqCtx RequestContext,
	verdict noise.Verdict,
) (*TrackResult, error) {

	newCount := existing.OccurrenceCount + 1
	severity := model.MaxSeverity(existing.Severity, report.Severity)

	calc := priority.Calculate(priority.Factors{
		ErrorSource:     existing.ErrorSource,
		ErrorType:       existing.ErrorType,
		Severity:        severity,
		OccurrenceCount: newCount,
		Route:           existing.Route,
		Metadata:        reqCtx.Metadata,
	})

	updates := map[string]interface{}{
		"severity":            severity,
		"last_occurrence":     s.now(),
		"calculated_priority": calc.Priority,
		"priority_score":      calc.Total,
		"is_transient":        verdict.IsTransient,
	}
	if verdict.GroupKey != "" {
		updates["group_key"] = verdict.GroupKey
	}

	if err := s.errors.RegisterRepeat(ctx, existing.ID, updates); err != nil {
		return nil, fmt.Errorf("register repeat for %s: %w", existing.Fingerprint, err)
	}

	existing.OccurrenceCount = newCount
	existing.Severity = severity
	existing.CalculatedPriority = calc.Priority
	existing.PriorityScore = calc.Total
	existing.LastOccurrence = s.now()

	// Historical records may predate ticket creation; backfill once.
	ticketID := existing.TicketID
	if ticketID == nil {
		ticketID = s.createTicket(ctx, existing, calc)
		existing.TicketID = ticketID
	}

	if calc.Priority == model.PriorityUrgent || calc.Priority == model.PriorityHigh {
		s.notifyHighPriority(ctx, existing, calc)
	}

	s.publish(*existing)

	s.logger.WithFields(logrus.Fields{
		"fingerprint": existing.Fingerprint,
		"occurrences": newCount,
		"priority":    calc.Priority,
	}).Info("repeat error occurrence merged")

	return &TrackResult{
		ErrorID:  existing.ID,
		TicketID: ticketID,
		IsNew:    false,
		Priority: calc.Priority,
	}, nil
}

func (s *Service) trackNew(
	ctx context.Context,
	fingerprint string,
	report ErrorReport,
	reqCtx RequestContext,
	verdict noise.Verdict,
) (*TrackResult, error) {

	calc := priority.Calculate(priority.Factors{
		ErrorSource:     report.ErrorSource,
		ErrorType:       report.ErrorType,
		Severity:        report.Severity,
		OccurrenceCount: 1,
		Route:           reqCtx.Route,
		Metadata:        reqCtx.Metadata,
	})

	now := s.now()
	record := &model.TrackedError{
		Fingerprint:        fingerprint,
		ErrorType:          report.ErrorType,
		ErrorSource:        report.ErrorSource,
		Severity:           report.Severity,
		Message:            report.Message,
		StackTrace:         report.StackTrace,
		Route:              reqCtx.Route,
		Method:             reqCtx.Method,
		UserID:             reqCtx.UserID,
		Metadata:           serializeMetadata(reqCtx.Metadata),
		OccurrenceCount:    1,
		FirstOccurrence:    now,
		LastOccurrence:     now,
		CalculatedPriority: calc.Priority,
		PriorityScore:      calc.Total,
		GroupKey:           verdict.GroupKey,
		IsTransient:        verdict.IsTransient,
	}

	if err := s.errors.Create(ctx, record); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The partial unique index allows one unresolved row per
			// fingerprint. Either a concurrent first occurrence won
			// the race, or an unresolved row outlived the dedup
			// window; both merge into the existing row, so the
			// lookup must not apply the window cutoff.
			winner, findErr := s.errors.FindUnresolvedByFingerprint(ctx, fingerprint)
			if findErr == nil && winner != nil {
				return s.trackRepeat(ctx, winner, report, reqCtx, verdict)
			}
		}

		return nil, fmt.Errorf("create tracked error %s: %w", fingerprint, err)
	}

	ticketID := s.createTicket(ctx, record, calc)
	record.TicketID = ticketID

	if calc.Priority == model.PriorityUrgent || calc.Priority == model.PriorityHigh {
		s.notifyHighPriority(ctx, record, calc)
	}

	s.publish(*record)

	s.logger.WithFields(logrus.Fields{
		"fingerprint": fingerprint,
		"source":      report.ErrorSource,
		"severity":    report.Severity,
		"priority":    calc.Priority,
		"score":       calc.Total,
	}).Info("new error tracked")

	return &TrackResult{
		ErrorID:  record.ID,
		TicketID: ticketID,
		IsNew:    true,
		Priority: calc.Priority,
	}, nil
}

// createTicket creates and assigns a ticket for the record, best effort: on
// any failure the error is logged and nil is returned, never propagated. A
// missing ticket must not prevent the error from being recorded.
func (s *Service) createTicket(ctx context.Context, record *model.TrackedError, calc priority.Result) *uint {
	if s.tickets == nil {
		return nil
	}

	ticket := &model.Ticket{
		Reference:        newTicketReference(),
		Title:            ticketTitle(record),
		Description:      buildTicketDescription(record, calc),
		Status:           model.TicketStatusOpen,
		Priority:         calc.Priority,
		AutoCreated:      true,
		ErrorFingerprint: record.Fingerprint,
	}

	if s.users != nil {
		admin, err := s.users.FindAdministrator(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("could not resolve administrator for ticket assignment")
		} else if admin != nil {
			ticket.AssigneeID = &admin.ID
		}
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.logger.WithError(err).WithField("fingerprint", record.Fingerprint).
			Error("ticket creation failed, error is still recorded")
		return nil
	}

	if err := s.errors.Update(ctx, record.ID, map[string]interface{}{"ticket_id": ticket.ID}); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.ID).
			Warn("could not back-reference ticket on tracked error")
	}

	s.syncTicketInBackground(*ticket)

	id := ticket.ID
	return &id
}

// syncTicketInBackground mirrors the ticket to the external issue tracker as
// a detached task. Failures land in the log, never in the caller's control
// flow.
func (s *Service) syncTicketInBackground(ticket model.Ticket) {
	if s.tracker == nil || !s.tracker.Enabled() {
		return
	}

	s.background(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("panic", r).Error("issue tracker sync panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		key, url, err := s.tracker.CreateIssue(ctx, ticket.Title, ticket.Description)
		if err != nil {
			s.logger.WithError(err).WithField("ticket_id", ticket.ID).
				Warn("external issue tracker sync failed")
			return
		}

		if err := s.tickets.Update(ctx, ticket.ID, map[string]interface{}{
			"external_key": key,
			"external_url": url,
		}); err != nil {
			s.logger.WithError(err).WithField("ticket_id", ticket.ID).
				Warn("could not store external issue reference")
		}
	})
}

// notifyHighPriority emails administrators about an alta/urgente error.
// Gated strictly on the calculated priority bucket; severity alone never
// triggers it. Delivery failures are logged, not surfaced.
func (s *Service) notifyHighPriority(ctx context.Context, record *model.TrackedError, calc priority.Result) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		s.logger.Warn("mailer not configured, skipping high-priority notification")
		return
	}
	if s.users == nil {
		return
	}

	admin, err := s.users.FindAdministrator(ctx)
	if err != nil || admin == nil || admin.Email == "" {
		s.logger.WithError(err).Warn("no administrator recipient for high-priority notification")
		return
	}

	subject := fmt.Sprintf("[%s] %s error in %s", strings.ToUpper(string(calc.Priority)), record.Severity, record.ErrorSource)
	html, text := buildNotificationBodies(admin.DisplayName(), record, calc)

	if err := s.mailer.Send(ctx, admin.Email, subject, html, text); err != nil {
		s.logger.WithError(err).WithField("fingerprint", record.Fingerprint).
			Error("high-priority notification failed")
	}
}

// Resolve flips a record to resolved with timestamp and actor. The engine
// never resolves automatically; this is always an operator action.
func (s *Service) Resolve(ctx context.Context, id uint, resolvedBy uint) error {
	ok, err := s.errors.Resolve(ctx, id, resolvedBy, s.now())
	if err != nil {
		return fmt.Errorf("resolve tracked error %d: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}

	s.logger.WithFields(logrus.Fields{
		"id":          id,
		"resolved_by": resolvedBy,
	}).Info("tracked error resolved")

	return nil
}

// Stats are aggregate counts over the unresolved set, computed on demand.
type Stats struct {
	Total       int64                     `json:"total"`
	Unresolved  int                       `json:"unresolved"`
	BySeverity  map[model.Severity]int    `json:"by_severity"`
	BySource    map[model.ErrorSource]int `json:"by_source"`
	ByPriority  map[model.Priority]int    `json:"by_priority"`
	NoiseFilter map[string]interface{}    `json:"noise_filter"`
}

// GetStats aggregates the current error population plus suppression state.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	all, err := s.errors.ListAll(ctx, s.statsLimit)
	if err != nil {
		return nil, fmt.Errorf("list tracked errors: %w", err)
	}

	unresolved, err := s.errors.ListUnresolved(ctx, s.statsLimit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved errors: %w", err)
	}

	stats := &Stats{
		Total:       int64(len(all)),
		Unresolved:  len(unresolved),
		BySeverity:  map[model.Severity]int{},
		BySource:    map[model.ErrorSource]int{},
		ByPriority:  map[model.Priority]int{},
		NoiseFilter: s.filter.Stats(),
	}

	for _, record := range unresolved {
		stats.BySeverity[record.Severity]++
		stats.BySource[record.ErrorSource]++
		stats.ByPriority[record.CalculatedPriority]++
	}

	return stats, nil
}

// serializeMetadata renders the metadata bag as JSON, capped so ticket
// descriptions cannot grow without bound.
func serializeMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	if len(raw) > metadataMaxBytes {
		raw = raw[:metadataMaxBytes]
	}

	return string(raw)
}
