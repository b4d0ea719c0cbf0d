package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
)

func newTestMailer(t *testing.T) *MailerClient {
	t.Helper()

	client := NewMailerClient(Config{
		MailAPIURL:      "https://mail.test",
		MailAPIKey:      "mail-key",
		MailFromAddress: "alerts@fleetadmin.test",
	})

	httpmock.ActivateNonDefault(client.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return client
}

func TestMailerIsConfigured(t *testing.T) {
	cases := []struct {
		name       string
		cfg        Config
		configured bool
	}{
		{"key and from", Config{MailAPIKey: "k", MailFromAddress: "a@b.test"}, true},
		{"missing from", Config{MailAPIKey: "k"}, false},
		{"missing key", Config{MailFromAddress: "a@b.test"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewMailerClient(tc.cfg).IsConfigured(); got != tc.configured {
				t.Fatalf("IsConfigured() = %v, want %v", got, tc.configured)
			}
		})
	}
}

func TestMailerSend(t *testing.T) {
	client := newTestMailer(t)

	var received sendEmailRequest
	httpmock.RegisterResponder("POST", "https://mail.test/v1/messages",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				t.Fatalf("could not decode request body: %v", err)
			}
			return httpmock.NewStringResponse(202, `{"status":"queued"}`), nil
		})

	err := client.Send(context.Background(), "ops@fleetadmin.test", "[URGENTE] critical error in payment", "<p>hi</p>", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.From != "alerts@fleetadmin.test" {
		t.Fatalf("expected the configured from address, got %q", received.From)
	}
	if received.To != "ops@fleetadmin.test" {
		t.Fatalf("unexpected recipient %q", received.To)
	}
	if received.Subject == "" || received.HTMLBody == "" || received.TextBody == "" {
		t.Fatalf("incomplete payload: %+v", received)
	}
}

func TestMailerSendSurfacesProviderErrors(t *testing.T) {
	client := newTestMailer(t)

	httpmock.RegisterResponder("POST", "https://mail.test/v1/messages",
		httpmock.NewStringResponder(502, "bad gateway"))

	err := client.Send(context.Background(), "ops@fleetadmin.test", "s", "h", "t")
	if err == nil {
		t.Fatalf("expected an error for status 502")
	}
}
