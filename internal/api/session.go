package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
)

// Context keys
type key int

const (
	clientKey key = iota
)

const cookieName = "querydeck-session"

func newCookieStore(sessionKey string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// ClientMiddleware identifies the browser or API client through a signed
// cookie, issuing a new identity on first contact. Worksheets belong to the
// client that opened them.
func ClientMiddleware(store *sessions.CookieStore, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A bad or foreign cookie just yields a fresh session.
			session, _ := store.Get(r, cookieName)
			client, _ := session.Values["client"].(string)
			if client == "" {
				client = uuid.NewString()
				session.Values["client"] = client
				if err := session.Save(r, w); err != nil {
					log.WithError(err).Warn("failed to save session cookie")
				}
			}
			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientFrom(ctx context.Context) string {
	client, _ := ctx.Value(clientKey).(string)
	return client
}
