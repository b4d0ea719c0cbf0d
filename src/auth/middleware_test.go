package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"fleetadmin/src/model"
)

type stubUserLookup struct {
	users map[string]*model.User
}

func (s *stubUserLookup) GetUserByUserName(_ context.Context, userName string) (*model.User, error) {
	user, ok := s.users[userName]
	if !ok {
		return nil, errors.New("record not found")
	}
	return user, nil
}

func TestRequireAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("valid-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("could not hash test key: %v", err)
	}

	lookup := &stubUserLookup{users: map[string]*model.User{
		"ops": {ID: 3, UserName: "ops", APIKeyHash: string(hash)},
	}}

	var seenUser *model.User
	protected := RequireAPIKey(lookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name     string
		userName string
		apiKey   string
		status   int
	}{
		{"valid credentials", "ops", "valid-key", http.StatusOK},
		{"wrong key", "ops", "wrong-key", http.StatusUnauthorized},
		{"unknown user", "ghost", "valid-key", http.StatusUnauthorized},
		{"missing headers", "", "", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seenUser = nil

			req := httptest.NewRequest("GET", "/admin/errors", nil)
			if tc.userName != "" {
				req.Header.Set("X-API-User", tc.userName)
			}
			if tc.apiKey != "" {
				req.Header.Set("X-API-Key", tc.apiKey)
			}

			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}

			if tc.status == http.StatusOK {
				if seenUser == nil || seenUser.ID != 3 {
					t.Fatalf("authenticated user missing from context: %+v", seenUser)
				}
			} else if seenUser != nil {
				t.Fatalf("handler must not run for rejected requests")
			}
		})
	}
}
