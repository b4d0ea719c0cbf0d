package model

import "time"

// Categorical classification of a tracked error. Values are assigned by the
// error-boundary middleware before the tracking engine sees the error.
type (
	ErrorType   string
	ErrorSource string
	Severity    string
	Priority    string
)

const (
	ErrorTypeValidation    ErrorType = "validation_error"
	ErrorTypeAuth          ErrorType = "authentication_error"
	ErrorTypePermission    ErrorType = "permission_error"
	ErrorTypeNotFound      ErrorType = "not_found_error"
	ErrorTypeConnection    ErrorType = "connection_error"
	ErrorTypeTimeout       ErrorType = "timeout_error"
	ErrorTypeDatabase      ErrorType = "database_error"
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeSystem        ErrorType = "system_error"
	ErrorTypeUnknown       ErrorType = "unknown_error"
)

const (
	SourcePayment     ErrorSource = "payment"
	SourceDatabase    ErrorSource = "database"
	SourceAuth        ErrorSource = "auth"
	SourceFileStorage ErrorSource = "file_storage"
	SourceExternalAPI ErrorSource = "external_api"
	SourceWebsocket   ErrorSource = "websocket"
	SourceEmail       ErrorSource = "email"
	SourceSMS         ErrorSource = "sms"
	SourceInternal    ErrorSource = "internal_service"
	SourceUnknown     ErrorSource = "unknown"
)

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

const (
	PriorityUrgent Priority = "urgente"
	PriorityHigh   Priority = "alta"
	PriorityMedium Priority = "media"
	PriorityLow    Priority = "baja"
)

// severityRank orders severities from least to most severe.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the more severe of the two. Repeat occurrences never
// downgrade a stored severity.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// TrackedError is a deduplicated system error. One unresolved row exists per
// fingerprint within the dedup window; repeat occurrences bump the counters
// on the existing row instead of inserting a new one.
type TrackedError struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Identity. The partial unique index on fingerprint (unresolved rows
	// only) closes the concurrent first-occurrence race; see repository.
	Fingerprint string `gorm:"size:64;not null;index" json:"fingerprint"`

	ErrorType   ErrorType   `gorm:"size:50;index" json:"error_type"`
	ErrorSource ErrorSource `gorm:"size:50;index" json:"error_source"`
	Severity    Severity    `gorm:"size:20;index" json:"severity"`

	Message    string `gorm:"type:text" json:"message"`
	StackTrace string `gorm:"type:text" json:"stack_trace,omitempty"`
	Route      string `gorm:"size:255" json:"route"`
	Method     string `gorm:"size:10" json:"method"`
	UserID     *uint  `gorm:"index" json:"user_id,omitempty"`
	Metadata   string `gorm:"type:jsonb" json:"metadata,omitempty"`

	OccurrenceCount int       `gorm:"not null;default:1" json:"occurrence_count"`
	FirstOccurrence time.Time `gorm:"not null" json:"first_occurrence"`
	LastOccurrence  time.Time `gorm:"not null;index" json:"last_occurrence"`

	CalculatedPriority Priority `gorm:"size:20;index" json:"calculated_priority"`
	PriorityScore      int      `gorm:"not null;default:0" json:"priority_score"`

	GroupKey    string `gorm:"size:50;index" json:"group_key,omitempty"`
	IsTransient bool   `gorm:"not null;default:false" json:"is_transient"`

	// Set at most once per fingerprint lifetime; repeats reuse it.
	TicketID *uint `gorm:"index" json:"ticket_id,omitempty"`

	Resolved   bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *uint      `json:"resolved_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TrackedError) TableName() string {
	return "tracked_errors"
}
