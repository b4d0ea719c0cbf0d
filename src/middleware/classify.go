package middleware

import (
	"regexp"
	"strings"

	"fleetadmin/src/model"
)

// Compact keyword classification of a raw error into the categorical fields
// the tracking engine expects. Deliberately coarse; the engine's own scoring
// does the fine-grained work.

var typeRules = []struct {
	re        *regexp.Regexp
	errorType model.ErrorType
}{
	{regexp.MustCompile(`(?i)validation|invalid (?:input|payload|parameter)|bad request`), model.ErrorTypeValidation},
	{regexp.MustCompile(`(?i)unauthorized|authentication|invalid (?:token|credential)|jwt`), model.ErrorTypeAuth},
	{regexp.MustCompile(`(?i)forbidden|permission denied|not allowed`), model.ErrorTypePermission},
	{regexp.MustCompile(`(?i)not found|no such|missing record`), model.ErrorTypeNotFound},
	{regexp.MustCompile(`(?i)ECONN|connection|socket|EPIPE|broken pipe|getaddrinfo|ENOTFOUND`), model.ErrorTypeConnection},
	{regexp.MustCompile(`(?i)timeout|timed out|ETIMEDOUT|deadline exceeded`), model.ErrorTypeTimeout},
	{regexp.MustCompile(`(?i)sql|database|gorm|constraint|deadlock|duplicate key`), model.ErrorTypeDatabase},
	{regexp.MustCompile(`(?i)config|env(?:ironment)? variable|missing setting`), model.ErrorTypeConfiguration},
	{regexp.MustCompile(`(?i)panic|runtime error|nil pointer|out of memory|index out of range`), model.ErrorTypeSystem},
}

var sourceRules = []struct {
	re     *regexp.Regexp
	source model.ErrorSource
}{
	{regexp.MustCompile(`(?i)payment|charge|card|payout|wallet|gateway`), model.SourcePayment},
	{regexp.MustCompile(`(?i)sql|database|gorm|postgres|deadlock`), model.SourceDatabase},
	{regexp.MustCompile(`(?i)auth|token|jwt|login|session`), model.SourceAuth},
	{regexp.MustCompile(`(?i)s3|bucket|storage|upload|file`), model.SourceFileStorage},
	{regexp.MustCompile(`(?i)websocket|ws://`), model.SourceWebsocket},
	{regexp.MustCompile(`(?i)smtp|email|mail`), model.SourceEmail},
	{regexp.MustCompile(`(?i)\bsms\b|twilio`), model.SourceSMS},
	{regexp.MustCompile(`(?i)external|upstream|third.party|api\b`), model.SourceExternalAPI},
}

var routeSourceRules = []struct {
	prefix string
	source model.ErrorSource
}{
	{"/api/payment", model.SourcePayment},
	{"/api/wallet", model.SourcePayment},
	{"/api/payouts", model.SourcePayment},
	{"/api/auth", model.SourceAuth},
}

// Classify maps a raw error message and route onto the engine's categorical
// fields. Unmatched errors land in unknown/internal with medium severity.
func Classify(message, route string) (model.ErrorType, model.ErrorSource, model.Severity) {
	errorType := model.ErrorTypeUnknown
	for _, rule := range typeRules {
		if rule.re.MatchString(message) {
			errorType = rule.errorType
			break
		}
	}

	source := model.ErrorSource("")
	for _, rule := range routeSourceRules {
		if strings.HasPrefix(route, rule.prefix) {
			source = rule.source
			break
		}
	}
	if source == "" {
		source = model.SourceInternal
		for _, rule := range sourceRules {
			if rule.re.MatchString(message) {
				source = rule.source
				break
			}
		}
	}

	return errorType, source, severityFor(errorType, source)
}

func severityFor(errorType model.ErrorType, source model.ErrorSource) model.Severity {
	switch errorType {
	case model.ErrorTypeSystem, model.ErrorTypeConfiguration:
		return model.SeverityCritical
	case model.ErrorTypeDatabase:
		return model.SeverityHigh
	case model.ErrorTypeConnection, model.ErrorTypeTimeout:
		if source == model.SourcePayment || source == model.SourceDatabase {
			return model.SeverityCritical
		}
		return model.SeverityHigh
	case model.ErrorTypeAuth, model.ErrorTypePermission:
		return model.SeverityMedium
	case model.ErrorTypeValidation, model.ErrorTypeNotFound:
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}
