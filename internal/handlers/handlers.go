package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/chepyr/daily-planner/internal/db"
	"github.com/chepyr/daily-planner/internal/models"
)

// UserRepository is the part of db.UserRepository the auth handlers need.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type Handler struct {
	TaskRepo *db.TaskRepository
	UserRepo UserRepository
	// AuthLimiter throttles register and login, WSLimiter websocket upgrades.
	// A nil limiter allows everything.
	AuthLimiter *RateLimiter
	WSLimiter   *RateLimiter
	WSHub       *WSHub
	Logger      *slog.Logger

	JWTSecret      []byte
	TokenTTL       time.Duration
	Timeout        time.Duration
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means no proxy is trusted.
	TrustedProxies []netip.Prefix
	// Location decides which calendar day is "today".
	Location *time.Location
	Now      func() time.Time
}

// Routes registers every endpoint under /api.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks", h.AuthMiddleware(h.HandleTasks))
	mux.HandleFunc("/api/tasks/", h.HandleTaskByID)
	mux.HandleFunc("/api/tasks-by-status", h.AuthMiddleware(h.HandleTasksByStatus))
	mux.HandleFunc("/api/tasks-add", h.AuthMiddleware(h.HandleCreateTask))
	mux.HandleFunc("/api/history", h.HandleHistory)
	mux.HandleFunc("/api/deleted", h.HandleDeleted)
	mux.HandleFunc("/api/restore/", h.HandleRestore)
	mux.HandleFunc("/api/register", h.Register)
	mux.HandleFunc("/api/login", h.Login)
	mux.HandleFunc("/api/ws", h.AuthMiddleware(h.HandleWebSocket))
	return h.LogRequests(mux)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 5 * time.Second
}

func (h *Handler) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.Local
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) today() models.Date {
	return models.DateOf(h.now().In(h.location()))
}

type messageResponse struct {
	Message string `json:"message"`
}

func sendError(w http.ResponseWriter, msg string, code int) {
	sendMessage(w, msg, code)
}

func sendMessage(w http.ResponseWriter, msg string, code int) {
	sendJSON(w, messageResponse{Message: msg}, code)
}

func sendJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(ct), "application/json")
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// storageFailure logs the cause and answers with a generic 500.
func (h *Handler) storageFailure(w http.ResponseWriter, r *http.Request, op string, err error, msg string) {
	h.logger().Error(op, "error", err, "method", r.Method, "path", r.URL.Path)
	sendError(w, msg, http.StatusInternalServerError)
}

// writeTaskError maps repository errors of id-targeted task mutations.
func (h *Handler) writeTaskError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		sendError(w, "No data to update.", http.StatusBadRequest)
	case errors.Is(err, models.ErrForbidden):
		sendError(w, "You are not authorized to update this task.", http.StatusForbidden)
	case errors.Is(err, models.ErrNotFound):
		sendError(w, "Task not found.", http.StatusNotFound)
	default:
		h.storageFailure(w, r, op, err, "Internal error while updating task.")
	}
}
