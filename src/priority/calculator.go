package priority

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fleetadmin/src/model"
)

// CascadeIndicators signal that an error is part of, or the root cause of, a
// chain of related failures.
type CascadeIndicators struct {
	HasRelatedErrors  bool
	RelatedErrorCount int
	IsRootCause       bool
}

// Factors are the structured inputs to a priority calculation. No I/O is
// performed; identical factors always produce identical results.
type Factors struct {
	ErrorSource     model.ErrorSource
	ErrorType       model.ErrorType
	Severity        model.Severity
	OccurrenceCount int
	Route           string
	Metadata        map[string]interface{}
	Cascade         *CascadeIndicators
}

// Breakdown exposes the five weighted sub-scores, each 0-100.
type Breakdown struct {
	Module    int `json:"module"`
	Severity  int `json:"severity"`
	Frequency int `json:"frequency"`
	Cascade   int `json:"cascade"`
	Pattern   int `json:"pattern"`
}

// Result is a deterministic, explainable score. Reasoning is narrative for
// ticket descriptions and never feeds back into the score.
type Result struct {
	Total     int
	Breakdown Breakdown
	Priority  model.Priority
	Reasoning []string
}

// ----- criticality tables -----

var moduleWeights = map[model.ErrorSource]int{
	model.SourcePayment:     100,
	model.SourceDatabase:    90,
	model.SourceAuth:        85,
	model.SourceFileStorage: 70,
	model.SourceExternalAPI: 65,
	model.SourceWebsocket:   60,
	model.SourceEmail:       50,
	model.SourceSMS:         50,
	model.SourceInternal:    40,
	model.SourceUnknown:     30,
}

// Route prefixes that mark high-value traffic. Ordered; the first matching
// prefix wins and only ever raises the module weight, never lowers it.
var routeWeights = []struct {
	prefix string
	weight int
}{
	{"/api/payment", 100},
	{"/api/wallet", 100},
	{"/api/payouts", 95},
	{"/api/auth", 85},
	{"/api/bookings", 75},
	{"/api/services", 75},
	{"/api/drivers", 70},
}

var severityWeights = map[model.Severity]int{
	model.SeverityCritical: 100,
	model.SeverityHigh:     75,
	model.SeverityMedium:   50,
	model.SeverityLow:      25,
}

var typeWeights = map[model.ErrorType]int{
	model.ErrorTypeConfiguration: 90,
	model.ErrorTypeSystem:        90,
	model.ErrorTypeConnection:    85,
	model.ErrorTypeDatabase:      85,
	model.ErrorTypeTimeout:       70,
	model.ErrorTypeAuth:          60,
	model.ErrorTypePermission:    55,
	model.ErrorTypeUnknown:       50,
	model.ErrorTypeNotFound:      25,
	model.ErrorTypeValidation:    20,
}

// Step thresholds: frequent errors escalate fast but plateau.
var frequencySteps = []struct {
	atLeast int
	weight  int
}{
	{100, 100},
	{50, 85},
	{20, 70},
	{10, 55},
	{5, 40},
	{3, 25},
}

var criticalKeywords = []string{
	"payment", "transaction", "wallet", "charge", "refund", "payout",
	"password", "token", "credential", "security", "breach", "leak",
	"database", "deadlock", "corrupt", "data loss",
	"crash", "panic", "fatal", "out of memory",
}

// ----- blend weights -----

var (
	moduleFactor    = decimal.NewFromFloat(0.30)
	severityFactor  = decimal.NewFromFloat(0.25)
	frequencyFactor = decimal.NewFromFloat(0.20)
	cascadeFactor   = decimal.NewFromFloat(0.15)
	patternFactor   = decimal.NewFromFloat(0.10)
)

// Bucket thresholds, strictly ordered.
const (
	urgentThreshold = 80
	highThreshold   = 60
	mediumThreshold = 40
)

// Calculate combines module criticality, severity, occurrence frequency,
// cascade relationships and keyword matches into a single 0-100 score and a
// discrete priority bucket.
func Calculate(f Factors) Result {
	b := Breakdown{
		Module:    moduleWeight(f.ErrorSource, f.Route),
		Severity:  severityWeight(f.Severity, f.ErrorType),
		Frequency: frequencyWeight(f.OccurrenceCount),
		Cascade:   cascadeWeight(f.Cascade),
		Pattern:   patternWeight(f.Metadata, f.Route),
	}

	total := decimal.NewFromInt(int64(b.Module)).Mul(moduleFactor).
		Add(decimal.NewFromInt(int64(b.Severity)).Mul(severityFactor)).
		Add(decimal.NewFromInt(int64(b.Frequency)).Mul(frequencyFactor)).
		Add(decimal.NewFromInt(int64(b.Cascade)).Mul(cascadeFactor)).
		Add(decimal.NewFromInt(int64(b.Pattern)).Mul(patternFactor)).
		Round(0).IntPart()

	score := int(total)

	// A critical failure inside a critical module is urgent no matter how
	// few occurrences have been seen yet; the frequency term would
	// otherwise drag a brand-new outage below the urgent threshold.
	escalated := false
	if f.Severity == model.SeverityCritical && b.Module >= 90 && score < urgentThreshold {
		score = urgentThreshold
		escalated = true
	}

	lines := reasoning(f, b)
	if escalated {
		lines = append(lines, "escalated to urgent: critical severity in critical module")
	}

	return Result{
		Total:     score,
		Breakdown: b,
		Priority:  bucketFor(score),
		Reasoning: lines,
	}
}

// FromSeverity is the direct fallback mapping for contexts where full
// scoring inputs are unavailable.
func FromSeverity(s model.Severity) model.Priority {
	switch s {
	case model.SeverityCritical:
		return model.PriorityUrgent
	case model.SeverityHigh:
		return model.PriorityHigh
	case model.SeverityMedium:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func bucketFor(total int) model.Priority {
	switch {
	case total >= urgentThreshold:
		return model.PriorityUrgent
	case total >= highThreshold:
		return model.PriorityHigh
	case total >= mediumThreshold:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func moduleWeight(source model.ErrorSource, route string) int {
	weight, ok := moduleWeights[source]
	if !ok {
		weight = moduleWeights[model.SourceUnknown]
	}

	// A high-value route raises the weight, never lowers it.
	for _, rw := range routeWeights {
		if strings.HasPrefix(route, rw.prefix) {
			if rw.weight > weight {
				weight = rw.weight
			}
			break
		}
	}

	return weight
}

// severityWeight blends the caller-assigned severity (60%) with the error
// type's intrinsic weight (40%).
func severityWeight(severity model.Severity, errorType model.ErrorType) int {
	sw, ok := severityWeights[severity]
	if !ok {
		sw = severityWeights[model.SeverityLow]
	}

	tw, ok := typeWeights[errorType]
	if !ok {
		tw = typeWeights[model.ErrorTypeUnknown]
	}

	blended := decimal.NewFromInt(int64(sw)).Mul(decimal.NewFromFloat(0.6)).
		Add(decimal.NewFromInt(int64(tw)).Mul(decimal.NewFromFloat(0.4))).
		Round(0).IntPart()

	return int(blended)
}

func frequencyWeight(count int) int {
	for _, step := range frequencySteps {
		if count >= step.atLeast {
			return step.weight
		}
	}
	return 10
}

func cascadeWeight(c *CascadeIndicators) int {
	if c == nil {
		return 0
	}

	weight := 0
	if c.HasRelatedErrors {
		weight += 30

		related := c.RelatedErrorCount * 10
		if related > 50 {
			related = 50
		}
		weight += related
	}
	if c.IsRootCause {
		weight += 20
	}
	if weight > 100 {
		weight = 100
	}

	return weight
}

func patternWeight(metadata map[string]interface{}, route string) int {
	text := strings.ToLower(route)
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			text += " " + strings.ToLower(string(raw))
		}
	}

	weight := 0
	for _, kw := range criticalKeywords {
		if strings.Contains(text, kw) {
			weight += 15
		}
	}
	if weight > 100 {
		weight = 100
	}

	return weight
}

// reasoning appends a narrative line whenever a sub-score crosses a
// human-relevant threshold. Purely descriptive; never affects the score.
func reasoning(f Factors, b Breakdown) []string {
	var lines []string

	if b.Module >= 80 {
		lines = append(lines, fmt.Sprintf("critical module affected: %s (weight %d)", f.ErrorSource, b.Module))
	}
	if b.Severity >= 75 {
		lines = append(lines, fmt.Sprintf("high severity: %s/%s (weight %d)", f.Severity, f.ErrorType, b.Severity))
	}
	if b.Frequency >= 60 {
		lines = append(lines, fmt.Sprintf("high recurrence: %d occurrences (weight %d)", f.OccurrenceCount, b.Frequency))
	}
	if f.Cascade != nil && f.Cascade.HasRelatedErrors && b.Cascade > 0 {
		line := fmt.Sprintf("cascade detected: %d related errors", f.Cascade.RelatedErrorCount)
		if f.Cascade.IsRootCause {
			line += " (likely root cause)"
		}
		lines = append(lines, line)
	}
	if b.Pattern >= 50 {
		lines = append(lines, fmt.Sprintf("critical keywords matched: %s", matchedKeywords(f.Metadata, f.Route)))
	}

	return lines
}

func matchedKeywords(metadata map[string]interface{}, route string) string {
	text := strings.ToLower(route)
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			text += " " + strings.ToLower(string(raw))
		}
	}

	var matched []string
	for _, kw := range criticalKeywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}
	sort.Strings(matched)

	return strings.Join(matched, ", ")
}
