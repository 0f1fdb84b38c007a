// Package identity identifies and authorizes the publishers that push agent
// events into the desk.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// TokenHeaderName carries the shared publish token.
	TokenHeaderName = "X-Desk-Token"
	// PublisherHeaderName optionally names the publisher.
	PublisherHeaderName = "X-Desk-Publisher"
	// TokenQueryParam is accepted for websocket clients that cannot set
	// headers.
	TokenQueryParam = "token"
	// DefaultPublisherID is used when a publisher does not name itself.
	DefaultPublisherID = "anonymous"
)

// ErrUnauthorized is returned when a publish token is missing or wrong.
var ErrUnauthorized = errors.New("invalid publish token")

type contextKey int

const publisherKey contextKey = iota

var publisherIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// PublisherFromContext extracts the publisher ID from the context.
func PublisherFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(publisherKey).(string); ok {
		return v
	}
	return DefaultPublisherID
}

// WithPublisher returns a context carrying publisherID.
func WithPublisher(ctx context.Context, publisherID string) context.Context {
	return context.WithValue(ctx, publisherKey, publisherID)
}

// GeneratePublisherID returns a random id for connections that did not
// name themselves.
func GeneratePublisherID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate publisher id: %w", err)
	}
	return "pub_" + hex.EncodeToString(buf), nil
}

// SanitizePublisherID returns id if it is a valid publisher id, otherwise
// DefaultPublisherID.
func SanitizePublisherID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !publisherIDPattern.MatchString(id) {
		return DefaultPublisherID
	}
	return id
}

// Authenticate checks provided against the expected token and returns the
// sanitized publisher id. An empty expected token disables the check.
func Authenticate(expected, provided, publisher string) (string, error) {
	if expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return "", ErrUnauthorized
	}
	return SanitizePublisherID(publisher), nil
}

// TokenFromRequest reads the publish token from the token header, a
// bearer Authorization header, or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if tok := r.Header.Get(TokenHeaderName); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

func publisherFromRequest(r *http.Request) string {
	p := r.Header.Get(PublisherHeaderName)
	if p == "" {
		p = r.URL.Query().Get("publisher")
	}
	return p
}

// Middleware rejects requests without the publish token and stores the
// publisher id in the request context.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			publisher, err := Authenticate(token, TokenFromRequest(r), publisherFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPublisher(r.Context(), publisher)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
