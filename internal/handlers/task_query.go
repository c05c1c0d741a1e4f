package handlers

import (
	"context"
	"net/http"

	"github.com/chepyr/daily-planner/internal/models"
)

// statuses shown in the "today" list; cancelled tasks never are
var todayListStatuses = []models.TaskStatus{
	models.TaskStatusNotStarted,
	models.TaskStatusInProgress,
	models.TaskStatusDone,
}

// statuses still waiting for work
var openStatuses = []models.TaskStatus{
	models.TaskStatusNotStarted,
	models.TaskStatusInProgress,
}

type taskCountResponse struct {
	TaskCount int `json:"taskCount"`
}

// GET /api/tasks - the caller's tasks due today, most urgent first
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	tasks, err := h.TaskRepo.ListDueOn(ctx, userID, h.today(), todayListStatuses...)
	if err != nil {
		h.storageFailure(w, r, "list tasks due today", err, "Server error while fetching tasks.")
		return
	}
	sendJSON(w, tasks, http.StatusOK)
}

// GET /api/tasks/today
func (h *Handler) countTasksToday(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	count, err := h.TaskRepo.CountDueOn(ctx, userID, h.today(), openStatuses...)
	if err != nil {
		h.storageFailure(w, r, "count tasks due today", err, "Server error while counting tasks.")
		return
	}
	sendJSON(w, taskCountResponse{TaskCount: count}, http.StatusOK)
}

// GET /api/tasks-by-status - every bucket is present even when empty
func (h *Handler) HandleTasksByStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	tasks, err := h.TaskRepo.ListByUser(ctx, userID)
	if err != nil {
		h.storageFailure(w, r, "list tasks by status", err, "Server error while fetching tasks.")
		return
	}
	sendJSON(w, groupByStatus(tasks), http.StatusOK)
}

func groupByStatus(tasks []models.Task) map[models.TaskStatus][]models.Task {
	groups := make(map[models.TaskStatus][]models.Task, len(todayListStatuses))
	for _, status := range todayListStatuses {
		groups[status] = []models.Task{}
	}
	for _, task := range tasks {
		if bucket, ok := groups[task.Status]; ok {
			groups[task.Status] = append(bucket, task)
		}
	}
	return groups
}

// GET /api/history - completed tasks of every user
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	h.listByStatus(w, r, models.TaskStatusDone)
}

// GET /api/deleted - cancelled tasks of every user
func (h *Handler) HandleDeleted(w http.ResponseWriter, r *http.Request) {
	h.listByStatus(w, r, models.TaskStatusCancelled)
}

func (h *Handler) listByStatus(w http.ResponseWriter, r *http.Request, status models.TaskStatus) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	tasks, err := h.TaskRepo.ListByStatus(ctx, status)
	if err != nil {
		h.storageFailure(w, r, "list tasks by status", err, "Server error while fetching tasks.")
		return
	}
	sendJSON(w, tasks, http.StatusOK)
}
