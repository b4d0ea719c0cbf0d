package noise

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Input is the raw material the filter classifies. Route and metadata are
// optional; they only widen the text the patterns are matched against.
type Input struct {
	Message    string
	StackTrace string
	Route      string
	Metadata   map[string]interface{}
}

// Verdict is the filter's decision for a single error occurrence.
type Verdict struct {
	ShouldProcess bool
	Reason        string
	IsTransient   bool
	SuppressFor   time.Duration
	GroupKey      string
}

type ignorablePattern struct {
	re          *regexp.Regexp
	description string
}

type transientPattern struct {
	re          *regexp.Regexp
	suppressFor time.Duration
}

type groupPattern struct {
	re  *regexp.Regexp
	key string
}

// Errors matching these carry no operational value and never reach
// persistence or alerting.
var ignorablePatterns = []ignorablePattern{
	{regexp.MustCompile(`(?i)\b(?:favicon\.ico|robots\.txt)\b`), "static asset request"},
	{regexp.MustCompile(`(?i)/[^\s]+\.(?:css|js|map|png|jpe?g|gif|svg|ico|woff2?|ttf)(?:\?|\s|$)`), "static asset request"},
	{regexp.MustCompile(`(?i)/(?:healthcheck|health|ping|ready|live)z?(?:\s|$|/)`), "health check endpoint"},
	{regexp.MustCompile(`(?i)\bcors preflight\b|\bOPTIONS\s+/`), "CORS preflight"},
	{regexp.MustCompile(`(?i)request (?:aborted|cancell?ed) by (?:the )?client|client closed request`), "user-initiated cancellation"},
	{regexp.MustCompile(`(?i)\bsession (?:expired|timed out)\b|\btoken expired\b`), "normal session expiry"},
}

// Known self-healing conditions. The first occurrence in a window is
// processed so it still gets a ticket; the rest are suppressed until the
// window lapses. TLS/certificate failures are deliberately absent: they do
// not self-heal and must always surface.
var transientPatterns = []transientPattern{
	{regexp.MustCompile(`(?i)\bECONNRESET\b|connection reset by peer`), 5 * time.Minute},
	{regexp.MustCompile(`(?i)socket hang ?up`), 5 * time.Minute},
	{regexp.MustCompile(`(?i)\bEPIPE\b|broken pipe`), 5 * time.Minute},
	{regexp.MustCompile(`(?i)connection pool (?:exhausted|timeout)|too many (?:connections|clients)`), 10 * time.Minute},
	{regexp.MustCompile(`(?i)rate limit(?:ed)?|too many requests|\b429\b`), 15 * time.Minute},
	{regexp.MustCompile(`(?i)\bEAI_AGAIN\b|\bENOTFOUND\b|getaddrinfo|dns (?:lookup|resolution) failed`), 10 * time.Minute},
	{regexp.MustCompile(`(?i)\bECONNREFUSED\b`), 5 * time.Minute},
	{regexp.MustCompile(`(?i)\bETIMEDOUT\b|request timed? ?out`), 5 * time.Minute},
}

// Guard evaluated before the transient list: anything TLS-shaped is never
// treated as self-healing.
var tlsPattern = regexp.MustCompile(`(?i)\b(?:tls|ssl|certificate|x509)\b`)

// Ordered domain tags; the first match wins.
var groupPatterns = []groupPattern{
	{regexp.MustCompile(`(?i)\b(?:sql|database|gorm|postgres|deadlock|constraint)\b`), "database_errors"},
	{regexp.MustCompile(`(?i)\b(?:payment|charge|card|payout|wallet|transaction|gateway)\b`), "payment_errors"},
	{regexp.MustCompile(`(?i)\b(?:smtp|email|mail(?:er|box)?)\b`), "email_errors"},
	{regexp.MustCompile(`(?i)\b(?:sms|twilio)\b`), "sms_errors"},
	{regexp.MustCompile(`(?i)\b(?:s3|bucket|storage|upload|multipart)\b`), "storage_errors"},
	{regexp.MustCompile(`(?i)\bwebsocket\b|\bws(?:s)?://`), "websocket_errors"},
	{regexp.MustCompile(`(?i)\b(?:external|integration|third.party|upstream|api key)\b`), "integration_errors"},
	{regexp.MustCompile(`(?i)\b(?:auth|jwt|token|login|credential)\b`), "auth_errors"},
}

var (
	digitRun = regexp.MustCompile(`\d+`)
	uuidLike = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

const suppressionKeyMaxLen = 100

// Filter classifies incoming errors as ignorable, transient or
// worth-processing, and time-boxes repeats of transient ones.
type Filter struct {
	suppressions SuppressionCache
	now          func() time.Time
}

func NewFilter(cache SuppressionCache) *Filter {
	if cache == nil {
		cache = NewSuppressionCache()
	}

	return &Filter{suppressions: cache, now: time.Now}
}

// Evaluate decides whether an error occurrence is worth processing.
// Ignorable patterns are checked first, then transient suppression, then
// domain grouping. The default is to process.
func (f *Filter) Evaluate(in Input) Verdict {
	ignorableText := in.Message
	if in.Route != "" {
		ignorableText += " " + in.Route
	}

	for _, p := range ignorablePatterns {
		if p.re.MatchString(ignorableText) {
			logger.WithFields(map[string]interface{}{
				"component": "NoiseFilter",
				"reason":    p.description,
				"route":     in.Route,
			}).Debug("Error ignored by noise filter")

			return Verdict{ShouldProcess: false, Reason: p.description}
		}
	}

	fullText := combinedText(in)
	groupKey := matchGroup(fullText)

	if !tlsPattern.MatchString(in.Message) {
		for _, p := range transientPatterns {
			if !p.re.MatchString(in.Message) {
				continue
			}

			key := suppressionKey(in.Message, in.Route)

			if entry, ok := f.suppressions.Get(key); ok {
				total := entry.Increment()

				logger.WithFields(map[string]interface{}{
					"component":  "NoiseFilter",
					"key":        key,
					"suppressed": total,
				}).Debug("Transient error suppressed")

				return Verdict{
					ShouldProcess: false,
					Reason:        fmt.Sprintf("transient error suppressed (%d occurrences in window)", total),
					IsTransient:   true,
					GroupKey:      groupKey,
				}
			}

			if p.suppressFor > 0 {
				f.suppressions.Set(key, &SuppressionEntry{}, p.suppressFor)
			}

			// First occurrence in the window still gets processed.
			return Verdict{
				ShouldProcess: true,
				IsTransient:   true,
				SuppressFor:   p.suppressFor,
				GroupKey:      groupKey,
			}
		}
	}

	return Verdict{ShouldProcess: true, GroupKey: groupKey}
}

// Stats reports the current suppression state, pruning expired entries first.
func (f *Filter) Stats() map[string]interface{} {
	f.suppressions.Prune()

	return map[string]interface{}{
		"active_suppressions": f.suppressions.Len(),
	}
}

// suppressionKey collapses incidental variation (ids, counts) so repeats of
// the same transient condition share one window.
func suppressionKey(message, route string) string {
	masked := digitRun.ReplaceAllString(uuidLike.ReplaceAllString(message, "UUID"), "N")
	if len(masked) > suppressionKeyMaxLen {
		masked = masked[:suppressionKeyMaxLen]
	}

	if route == "" {
		route = "unknown"
	}

	return masked + "|" + route
}

func combinedText(in Input) string {
	parts := []string{in.Message}
	if in.StackTrace != "" {
		parts = append(parts, in.StackTrace)
	}
	if in.Route != "" {
		parts = append(parts, in.Route)
	}
	if len(in.Metadata) > 0 {
		if raw, err := json.Marshal(in.Metadata); err == nil {
			parts = append(parts, string(raw))
		}
	}

	return strings.Join(parts, " ")
}

func matchGroup(text string) string {
	for _, p := range groupPatterns {
		if p.re.MatchString(text) {
			return p.key
		}
	}
	return ""
}
