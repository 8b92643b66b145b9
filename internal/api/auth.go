package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/models"
)

const sessionCookie = "session"

// Auth implements admin session authentication. Sessions live in Redis with
// a one day TTL; the cookie only carries the random session id.
type Auth struct {
	cache        *cache.Cache
	username     string
	password     string
	passwordHash string
	log          *slog.Logger
}

func NewAuth(c *cache.Cache, username, password, passwordHash string, log *slog.Logger) *Auth {
	return &Auth{cache: c, username: username, password: password,
		passwordHash: passwordHash, log: log}
}

func (a *Auth) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if a.passwordHash != "" {
		return userOK && bcrypt.CompareHashAndPassword(
			[]byte(a.passwordHash), []byte(password)) == nil
	}
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return userOK && passOK
}

func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid credentials payload")
		return
	}
	if !a.verify(creds.Username, creds.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	id := models.GenerateToken()
	if err := a.cache.SetSession(r.Context(), id, creds.Username); err != nil {
		a.log.Error("session store failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cache.SessionTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := a.cache.DeleteSession(r.Context(), c.Value); err != nil {
			a.log.Warn("session delete failed", "err", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name: sessionCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Auth) HandleStatus(w http.ResponseWriter, r *http.Request) {
	username, ok := a.sessionUser(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": ok,
		"username":      username,
	})
}

func (a *Auth) sessionUser(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	username, err := a.cache.Session(r.Context(), c.Value)
	if errors.Is(err, cache.ErrMiss) {
		return "", false
	}
	if err != nil {
		a.log.Error("session lookup failed", "err", err)
		return "", false
	}
	return username, true
}

// Middleware rejects requests without a live session.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.sessionUser(r); !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
