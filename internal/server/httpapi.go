package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Users verifies configured dev accounts. Plaintext passwords from the config
// are hashed once at startup so comparisons always go through bcrypt.
type Users struct {
	hashes map[string][]byte
}

// NewUsers hashes the configured username/password pairs.
func NewUsers(accounts map[string]string) (*Users, error) {
	hashes := make(map[string][]byte, len(accounts))
	for username, password := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashes[username] = hash
	}
	return &Users{hashes: hashes}, nil
}

// Verify checks a username/password pair.
func (u *Users) Verify(username, password string) bool {
	hash, ok := u.hashes[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

type tokenReply struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewAPIRouter wires the login and refresh endpoints.
func NewAPIRouter(users *Users, tokens *TokenService, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/evdash/api/login", method(http.MethodPost, loginHandler(users, tokens, logger)))
	mux.Handle("/evdash/api/refresh", method(http.MethodPost, refreshHandler(tokens, logger)))
	return mux
}

func loginHandler(users *Users, tokens *TokenService, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTokenError(w, http.StatusBadRequest, "invalidRequest")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			writeTokenError(w, http.StatusBadRequest, "invalidRequest")
			return
		}

		if !users.Verify(req.Username, req.Password) {
			logger.Info("login rejected", zap.String("username", req.Username))
			writeTokenError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		issueToken(w, tokens, req.Username, logger)
	}
}

func refreshHandler(tokens *TokenService, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		Token string `json:"token"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTokenError(w, http.StatusBadRequest, "invalidRequest")
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			writeTokenError(w, http.StatusBadRequest, "invalidRequest")
			return
		}

		claims, err := tokens.Validate(req.Token)
		if err != nil {
			logger.Info("refresh rejected", zap.Error(err))
			writeTokenError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		issueToken(w, tokens, claims.Username, logger)
	}
}

func issueToken(w http.ResponseWriter, tokens *TokenService, username string, logger *zap.Logger) {
	token, expiresAt, err := tokens.Generate(username)
	if err != nil {
		logger.Error("failed to issue token", zap.Error(err))
		writeTokenError(w, http.StatusInternalServerError, "internalError")
		return
	}

	writeJSON(w, http.StatusOK, tokenReply{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

func writeTokenError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, tokenReply{Success: false, Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
