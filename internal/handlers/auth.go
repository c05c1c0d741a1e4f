package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/chepyr/daily-planner/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 4

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// validate returns the message of the first violation, "" when valid.
func (c *credentials) validate() string {
	c.Email = strings.TrimSpace(c.Email)
	if !emailRegex.MatchString(c.Email) {
		return "Invalid email"
	}
	if len(c.Password) < minPasswordLength {
		return "Password must be at least 4 characters long"
	}
	return ""
}

type registerResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

type loginResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	UserEmail string    `json:"user_email"`
	Token     string    `json:"token"`
}

// POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ip := h.clientIP(r)
	if !h.AuthLimiter.Allow(ip) {
		h.logger().Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
		sendError(w, "Too many register attempts. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var input credentials
	if !decodeJSON(w, r, &input) {
		return
	}
	if msg := input.validate(); msg != "" {
		sendError(w, msg, http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		h.storageFailure(w, r, "hash password", err, "Cannot hash password")
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        input.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	if err := h.UserRepo.Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			sendError(w, "Email already registered", http.StatusConflict)
			return
		}
		h.storageFailure(w, r, "create user", err, "Cannot save user")
		return
	}

	h.logger().Info("user registered", "user_id", user.ID)
	sendJSON(w, registerResponse{UserID: user.ID, Email: user.Email}, http.StatusCreated)
}

// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ip := h.clientIP(r)
	if !h.AuthLimiter.Allow(ip) {
		h.logger().Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
		sendError(w, "Too many login attempts. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var input credentials
	if !decodeJSON(w, r, &input) {
		return
	}
	if msg := input.validate(); msg != "" {
		sendError(w, msg, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	user, err := h.UserRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			sendError(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		h.storageFailure(w, r, "get user", err, "Cannot log in")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		sendError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	token, err := h.issueToken(user.ID.String())
	if err != nil {
		h.storageFailure(w, r, "sign token", err, "Cannot create token")
		return
	}
	sendJSON(w, loginResponse{UserID: user.ID, UserEmail: user.Email, Token: token}, http.StatusOK)
}

func (h *Handler) issueToken(sub string) (string, error) {
	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	})
	return token.SignedString(h.JWTSecret)
}
