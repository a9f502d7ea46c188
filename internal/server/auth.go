package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// session represents a logged-in user session created via /api/login.
type session struct {
	Token      string
	Username   string
	ExpireTime time.Time
}

// authMiddleware checks for a valid bearer token when API-key auth is
// enabled. Accepts either the static key resolved from the environment or a
// live login session.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Mode != "apikey" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tidelog"`)
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		if key := s.auth.Key(); key != "" && token == key {
			next.ServeHTTP(w, r)
			return
		}

		s.sessionsMu.RLock()
		sess, exists := s.sessions[token]
		s.sessionsMu.RUnlock()

		if exists {
			if time.Now().Before(sess.ExpireTime) {
				next.ServeHTTP(w, r)
				return
			}
			s.sessionsMu.Lock()
			delete(s.sessions, token)
			s.sessionsMu.Unlock()
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="tidelog"`)
		http.Error(w, "Unauthorized: invalid or expired token", http.StatusUnauthorized)
	})
}

// handleLogin verifies the configured admin credentials and issues a session
// token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.auth.AdminUser == "" || s.auth.AdminPasswordHash == "" {
		http.Error(w, "Login disabled", http.StatusNotFound)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Username != s.auth.AdminUser {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.auth.AdminPasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	s.createSession(w, req.Username)
}

func (s *Server) createSession(w http.ResponseWriter, username string) {
	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)

	s.sessionsMu.Lock()
	s.sessions[token] = session{
		Token:      token,
		Username:   username,
		ExpireTime: time.Now().Add(24 * time.Hour),
	}
	s.sessionsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token":    token,
		"username": username,
	})
}
