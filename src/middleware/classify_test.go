package middleware

import (
	"testing"

	"fleetadmin/src/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		route    string
		errType  model.ErrorType
		source   model.ErrorSource
		severity model.Severity
	}{
		{
			name:     "payment connection failure",
			message:  "ECONNREFUSED connecting to payment gateway",
			route:    "/api/payment/charge",
			errType:  model.ErrorTypeConnection,
			source:   model.SourcePayment,
			severity: model.SeverityCritical,
		},
		{
			name:     "wallet route outranks message keywords",
			message:  "upstream request failed",
			route:    "/api/wallet/balance",
			errType:  model.ErrorTypeUnknown,
			source:   model.SourcePayment,
			severity: model.SeverityMedium,
		},
		{
			name:     "database deadlock",
			message:  "deadlock detected in gorm transaction",
			route:    "/api/bookings",
			errType:  model.ErrorTypeDatabase,
			source:   model.SourceDatabase,
			severity: model.SeverityHigh,
		},
		{
			name:     "validation error",
			message:  "validation failed: name is required",
			route:    "/api/services",
			errType:  model.ErrorTypeValidation,
			source:   model.SourceInternal,
			severity: model.SeverityLow,
		},
		{
			name:     "panic is a critical system error",
			message:  "panic: runtime error: nil pointer dereference",
			route:    "/api/drivers",
			errType:  model.ErrorTypeSystem,
			source:   model.SourceInternal,
			severity: model.SeverityCritical,
		},
		{
			name:     "auth token failure",
			message:  "invalid token signature",
			route:    "/api/auth/login",
			errType:  model.ErrorTypeAuth,
			source:   model.SourceAuth,
			severity: model.SeverityMedium,
		},
		{
			name:     "timeout outside critical modules",
			message:  "request timed out after 30s",
			route:    "/api/drivers/42",
			errType:  model.ErrorTypeTimeout,
			source:   model.SourceInternal,
			severity: model.SeverityHigh,
		},
		{
			name:     "unmatched message",
			message:  "something odd happened",
			route:    "/api/bookings",
			errType:  model.ErrorTypeUnknown,
			source:   model.SourceInternal,
			severity: model.SeverityMedium,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errType, source, severity := Classify(tc.message, tc.route)

			if errType != tc.errType {
				t.Errorf("type = %s, want %s", errType, tc.errType)
			}
			if source != tc.source {
				t.Errorf("source = %s, want %s", source, tc.source)
			}
			if severity != tc.severity {
				t.Errorf("severity = %s, want %s", severity, tc.severity)
			}
		})
	}
}
