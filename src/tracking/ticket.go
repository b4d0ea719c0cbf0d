package tracking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fleetadmin/src/model"
	"fleetadmin/src/priority"
)

func newTicketReference() string {
	return "ERR-" + strings.ToUpper(uuid.NewString()[:8])
}

func ticketTitle(record *model.TrackedError) string {
	message := record.Message
	if len(message) > 120 {
		message = message[:117] + "..."
	}

	return fmt.Sprintf("[%s] %s: %s", record.ErrorSource, record.ErrorType, message)
}

// buildTicketDescription renders the structured ticket body: verbatim
// message, priority reasoning, classification, fingerprint and the full
// stack trace and metadata for debugging.
func buildTicketDescription(record *model.TrackedError, calc priority.Result) string {
	var b strings.Builder

	b.WriteString("## Error\n\n")
	b.WriteString(record.Message)
	b.WriteString("\n\n")

	if len(calc.Reasoning) > 0 {
		b.WriteString("## Priority assessment\n\n")
		for _, line := range calc.Reasoning {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Classification\n\n")
	fmt.Fprintf(&b, "- Type: %s\n", record.ErrorType)
	fmt.Fprintf(&b, "- Source: %s\n", record.ErrorSource)
	fmt.Fprintf(&b, "- Severity: %s\n", record.Severity)
	fmt.Fprintf(&b, "- Priority: %s (score %d)\n", calc.Priority, calc.Total)
	fmt.Fprintf(&b, "- Route: %s %s\n", record.Method, record.Route)
	fmt.Fprintf(&b, "- Fingerprint: %s\n", record.Fingerprint)
	fmt.Fprintf(&b, "- Occurrences: %d\n", record.OccurrenceCount)
	if record.GroupKey != "" {
		fmt.Fprintf(&b, "- Group: %s\n", record.GroupKey)
	}
	fmt.Fprintf(&b, "- Transient: %t\n", record.IsTransient)
	b.WriteString("\n")

	if record.StackTrace != "" {
		b.WriteString("## Stack trace\n\n```\n")
		b.WriteString(record.StackTrace)
		b.WriteString("\n```\n\n")
	}

	if record.Metadata != "" {
		b.WriteString("## Metadata\n\n```json\n")
		b.WriteString(record.Metadata)
		b.WriteString("\n```\n")
	}

	return b.String()
}

func buildNotificationBodies(recipientName string, record *model.TrackedError, calc priority.Result) (html, text string) {
	reasonList := ""
	reasonHTML := ""
	for _, line := range calc.Reasoning {
		reasonList += "  - " + line + "\n"
		reasonHTML += "<li>" + line + "</li>"
	}

	text = fmt.Sprintf(
		"Hi %s,\n\nA %s priority error needs attention.\n\n"+
			"Message: %s\nSource: %s\nSeverity: %s\nRoute: %s %s\nOccurrences: %d\nScore: %d\n\nReasons:\n%s",
		recipientName, calc.Priority,
		record.Message, record.ErrorSource, record.Severity,
		record.Method, record.Route, record.OccurrenceCount, calc.Total,
		reasonList,
	)

	html = fmt.Sprintf(
		"<p>Hi %s,</p><p>A <strong>%s</strong> priority error needs attention.</p>"+
			"<p><strong>Message:</strong> %s<br/><strong>Source:</strong> %s<br/>"+
			"<strong>Severity:</strong> %s<br/><strong>Route:</strong> %s %s<br/>"+
			"<strong>Occurrences:</strong> %d<br/><strong>Score:</strong> %d</p>"+
			"<ul>%s</ul>",
		recipientName, calc.Priority,
		record.Message, record.ErrorSource, record.Severity,
		record.Method, record.Route, record.OccurrenceCount, calc.Total,
		reasonHTML,
	)

	return html, text
}
