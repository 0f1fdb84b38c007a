package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expected  string
		provided  string
		publisher string
		want      string
		wantErr   error
	}{
		{"open desk", "", "", "", DefaultPublisherID, nil},
		{"valid token", "s3cret", "s3cret", "agent-1", "agent-1", nil},
		{"wrong token", "s3cret", "nope", "agent-1", "", ErrUnauthorized},
		{"invalid publisher id", "", "", "bad id!", DefaultPublisherID, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Authenticate(tt.expected, tt.provided, tt.publisher)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws/events?token=q", nil)
	if got := TokenFromRequest(r); got != "q" {
		t.Errorf("query token = %q", got)
	}
	r.Header.Set("Authorization", "Bearer b")
	if got := TokenFromRequest(r); got != "b" {
		t.Errorf("bearer token = %q", got)
	}
	r.Header.Set(TokenHeaderName, "h")
	if got := TokenFromRequest(r); got != "h" {
		t.Errorf("header token = %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PublisherFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/events/data", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/events/data", strings.NewReader("{}"))
	r.Header.Set(TokenHeaderName, "s3cret")
	r.Header.Set(PublisherHeaderName, "agent-7")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || seen != "agent-7" {
		t.Errorf("status = %d, publisher = %q", w.Code, seen)
	}
}

func TestGeneratePublisherID(t *testing.T) {
	t.Parallel()

	a, err := GeneratePublisherID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GeneratePublisherID()
	if a == b || !strings.HasPrefix(a, "pub_") || SanitizePublisherID(a) != a {
		t.Errorf("generated ids %q, %q", a, b)
	}
}
