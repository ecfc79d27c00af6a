package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-payouts/internal/logger"

	"github.com/stretchr/testify/assert"
)

func staticVerifier(valid, subject string) TokenVerifier {
	return func(ctx context.Context, raw string) (string, error) {
		if raw != valid {
			return "", errors.New("signature mismatch")
		}
		return subject, nil
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(staticVerifier("good", "operator-1"), logger.NewNop())(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"too many parts", "Bearer a b", http.StatusUnauthorized},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "bearer good", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/trigger-payout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error"`)
				assert.Empty(t, seen)
			} else {
				assert.Equal(t, "operator-1", seen)
			}
		})
	}
}

func TestUserID_Unauthenticated(t *testing.T) {
	assert.Equal(t, "", UserID(context.Background()))
}
