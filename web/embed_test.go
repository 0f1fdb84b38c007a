package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBoardHandler(t *testing.T) {
	t.Parallel()

	h := BoardHandler()
	for _, path := range []string{"/", "/sessions/abc"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), "/api/stream") {
			t.Fatalf("GET %s did not serve the board page", path)
		}
	}
}
