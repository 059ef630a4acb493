// ABOUTME: Operator login, logout and current-user HTTP handlers
// ABOUTME: bcrypt password check with constant-time miss path and JWT session cookie

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/dispatch-gateway/internal/store"
)

// minPasswordLength matches the dashboard's login form validation.
const minPasswordLength = 8

// dummyHash is compared against when the user is unknown so a miss costs
// the same as a wrong password.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// UserView is the JSON form of an operator, without the password hash.
type UserView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FullName  string     `json:"fullName"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin"`
}

func viewOf(u *store.User) *UserView {
	return &UserView{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

type authResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	User    *UserView `json:"user,omitempty"`
}

// HandlerConfig configures the login handlers.
type HandlerConfig struct {
	Users    store.UserStore
	Tokens   *JWTVerifier
	TokenTTL time.Duration
	Limiter  *LoginLimiter // nil disables rate limiting
	ClientIP func(*http.Request) string
	Logger   *slog.Logger
}

// Handler serves /auth/login, /auth/logout and /auth/me.
type Handler struct {
	cfg    HandlerConfig
	logger *slog.Logger
}

// NewHandler creates login handlers.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ClientIP == nil {
		cfg.ClientIP = func(r *http.Request) string {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				return r.RemoteAddr
			}
			return host
		}
	}
	return &Handler{cfg: cfg, logger: cfg.Logger.With("component", "auth")}
}

// Middleware returns the session check for operator endpoints.
func (h *Handler) Middleware() func(http.Handler) http.Handler {
	return HTTPAuthMiddleware(h.cfg.Users, h.cfg.Tokens)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and sets the session cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := h.cfg.ClientIP(r)
	if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow(ip) {
		h.logger.Warn("login rate limited", "ip", ip)
		writeAuthJSON(w, http.StatusTooManyRequests, authResponse{Message: "Too many login attempts, please try again later"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthJSON(w, http.StatusBadRequest, authResponse{Message: "invalid JSON: " + err.Error()})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeAuthJSON(w, http.StatusBadRequest, authResponse{Message: "Username is required"})
		return
	}
	if len(req.Password) < minPasswordLength {
		writeAuthJSON(w, http.StatusBadRequest, authResponse{Message: "Password must be at least 8 characters"})
		return
	}

	user, err := h.cfg.Users.FindByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			h.logger.Error("user lookup failed", "error", err)
			writeAuthJSON(w, http.StatusInternalServerError, authResponse{Message: "internal error"})
			return
		}
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
		h.logger.Info("login failed", "username", req.Username, "ip", ip, "reason", "unknown user")
		writeAuthJSON(w, http.StatusUnauthorized, authResponse{Message: "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.Info("login failed", "username", req.Username, "ip", ip, "reason", "wrong password")
		writeAuthJSON(w, http.StatusUnauthorized, authResponse{Message: "Invalid credentials"})
		return
	}

	now := time.Now()
	if err := h.cfg.Users.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		h.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	token, err := h.cfg.Tokens.Generate(user.ID, h.cfg.TokenTTL)
	if err != nil {
		h.logger.Error("failed to generate session token", "error", err)
		writeAuthJSON(w, http.StatusInternalServerError, authResponse{Message: "internal error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("login succeeded", "user_id", user.ID, "username", user.Username, "ip", ip)
	writeAuthJSON(w, http.StatusOK, authResponse{Success: true, Message: "Login successful", User: viewOf(user)})
}

// HandleLogout clears the session cookie. Tokens are stateless, so a copied
// bearer token stays valid until it expires.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeAuthJSON(w, http.StatusOK, authResponse{Success: true, Message: "Logged out successfully"})
}

// HandleMe returns the operator behind the request's session.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	authCtx, errMsg := authenticate(r, h.cfg.Users, h.cfg.Tokens)
	if errMsg != "" {
		writeAuthJSON(w, http.StatusUnauthorized, authResponse{Message: "Not authenticated"})
		return
	}

	user, err := h.cfg.Users.FindByID(r.Context(), authCtx.UserID)
	if err != nil {
		writeAuthJSON(w, http.StatusNotFound, authResponse{Message: "User not found"})
		return
	}
	writeAuthJSON(w, http.StatusOK, authResponse{Success: true, User: viewOf(user)})
}

func writeAuthJSON(w http.ResponseWriter, status int, resp authResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
