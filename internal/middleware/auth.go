package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/crypto"
	"github.com/keyward/keyward/internal/database"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const actorContextKey contextKey = "actor"

const (
	tokenHashSetting   = "api_token_hash"
	tokenSealedSetting = "api_token_sealed"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// EnsureAPIToken generates the operator API token on first boot and
// stores its bcrypt hash plus a sealed copy for later retrieval. The
// plaintext token is returned only when freshly generated.
func EnsureAPIToken() (token string, created bool, err error) {
	if _, err := database.GetSetting(tokenHashSetting); err == nil {
		return "", false, nil
	}

	token = uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", false, err
	}
	if err := database.SetSetting(tokenHashSetting, string(hash)); err != nil {
		return "", false, err
	}
	sealed, err := crypto.Encrypt(token)
	if err != nil {
		return "", false, err
	}
	if err := database.SetSetting(tokenSealedSetting, sealed); err != nil {
		return "", false, err
	}
	log.Printf("[auth] generated API token %s", crypto.Mask(token))
	return token, true, nil
}

// APIToken returns the current plaintext token from its sealed copy.
func APIToken() (string, error) {
	sealed, err := database.GetSetting(tokenSealedSetting)
	if err != nil {
		return "", err
	}
	return crypto.Decrypt(sealed)
}

// RequireAuth enforces bearer-token authentication on API routes and
// attaches the acting identity to the request context. With auth
// disabled every request runs as "operator".
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if config.Cfg.AuthDisabled {
			ctx := context.WithValue(r.Context(), actorContextKey, "operator")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
			return
		}

		hash, err := database.GetSetting(tokenHashSetting)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, "api")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// GetActor returns the authenticated identity for audit attribution.
func GetActor(r *http.Request) string {
	actor, _ := r.Context().Value(actorContextKey).(string)
	return actor
}

// WithActorForTest attaches an actor to the request context for testing.
func WithActorForTest(r *http.Request, actor string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorContextKey, actor))
}
