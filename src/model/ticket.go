package model

import "time"

const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusClosed     = "closed"
)

// Ticket is the work item created for a tracked error. At most one ticket is
// created per fingerprint lifetime; repeat occurrences reuse it.
type Ticket struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Short human-facing reference, e.g. printed in alert emails.
	Reference string `gorm:"size:36;uniqueIndex" json:"reference"`

	Title       string   `gorm:"size:255;not null" json:"title"`
	Description string   `gorm:"type:text" json:"description"`
	Status      string   `gorm:"size:20;index" json:"status"`
	Priority    Priority `gorm:"size:20;index" json:"priority"`

	AssigneeID *uint `gorm:"index" json:"assignee_id,omitempty"`

	// Auto-created tickets carry a back-reference to the error fingerprint
	// so repeats and humans can find each other.
	AutoCreated      bool   `gorm:"not null;default:false" json:"auto_created"`
	ErrorFingerprint string `gorm:"size:64;index" json:"error_fingerprint,omitempty"`

	// Filled by the best-effort external tracker sync.
	ExternalKey string `gorm:"size:50" json:"external_key,omitempty"`
	ExternalURL string `gorm:"size:255" json:"external_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}
