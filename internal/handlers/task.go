package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/chepyr/daily-planner/internal/models"
	"github.com/oapi-codegen/nullable"
)

const maxBodyBytes = 1 << 20 // 1MB

/*
routes under /api/tasks/:
- GET /api/tasks/today - count of open tasks due today (auth)
- PUT /api/tasks/cancel/{id} - cancel a task
- PUT /api/tasks/{id}/status - mark complete or not (auth)
- PUT /api/tasks/{id} - partial update (auth)
- DELETE /api/tasks/{id} - hard delete
*/
func (h *Handler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")

	switch {
	case rest == "today":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		h.AuthMiddleware(h.countTasksToday)(w, r)

	case strings.HasPrefix(rest, "cancel/"):
		if !allowMethod(w, r, http.MethodPut) {
			return
		}
		h.withTaskID(strings.TrimPrefix(rest, "cancel/"), h.cancelTask)(w, r)

	case strings.HasSuffix(rest, "/status"):
		if !allowMethod(w, r, http.MethodPut) {
			return
		}
		h.AuthMiddleware(h.withTaskID(strings.TrimSuffix(rest, "/status"), h.setTaskCompleted))(w, r)

	default:
		switch r.Method {
		case http.MethodPut:
			h.AuthMiddleware(h.withTaskID(rest, h.updateTask))(w, r)
		case http.MethodDelete:
			h.withTaskID(rest, h.deleteTask)(w, r)
		default:
			w.Header().Set("Allow", "PUT, DELETE")
			sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (h *Handler) withTaskID(raw string, next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTaskID(w, raw)
		if !ok {
			return
		}
		next(w, r, id)
	}
}

func parseTaskID(w http.ResponseWriter, raw string) (int64, bool) {
	if raw == "" {
		sendError(w, "Task ID is required.", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		sendError(w, "Task ID must be a positive integer.", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON replies 400 itself when the body is not usable.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// blank treats null and "" alike.
func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func nilIfBlank(s *string) *string {
	if blank(s) {
		return nil
	}
	return s
}

type createTaskRequest struct {
	TaskName *string `json:"task_name"`
	Category *string `json:"category"`
	DueDate  *string `json:"due_date"`
	DueTime  *string `json:"due_time"`
	Priority string  `json:"priority"`
	Status   *string `json:"status"`
}

type createTaskResponse struct {
	Message string `json:"message"`
	TaskID  int64  `json:"taskId"`
}

// POST /api/tasks-add
func (h *Handler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var input createTaskRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	task, msg := h.newTask(userID, input)
	if msg != "" {
		sendError(w, msg, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	id, err := h.TaskRepo.Create(ctx, task)
	if err != nil {
		h.storageFailure(w, r, "create task", err, "Error while inserting the task.")
		return
	}
	h.notify(userID, EventTaskCreated, id, task.Status)
	sendJSON(w, createTaskResponse{Message: "Task created successfully!", TaskID: id}, http.StatusCreated)
}

// newTask validates input and returns the message of the first violation.
func (h *Handler) newTask(userID string, input createTaskRequest) (*models.Task, string) {
	task := &models.Task{
		UserID:   userID,
		TaskName: nilIfBlank(input.TaskName),
		Category: nilIfBlank(input.Category),
		Priority: models.Priority(input.Priority),
		Status:   models.TaskStatusNotStarted,
	}
	if !task.Priority.Valid() {
		return nil, "Invalid priority."
	}
	if !blank(input.DueDate) {
		due, err := models.ParseDate(*input.DueDate, h.location())
		if err != nil {
			return nil, "Invalid due date."
		}
		if due.Before(h.today()) {
			return nil, "Due date cannot be in the past."
		}
		task.DueDate = due
	}
	if !blank(input.DueTime) {
		at, err := models.ParseTimeOfDay(*input.DueTime)
		if err != nil {
			return nil, "Invalid due time."
		}
		task.DueTime = at
	}
	if !blank(input.Status) {
		if task.Status = models.NormalizeStatus(*input.Status); task.Status == "" {
			return nil, "Invalid status."
		}
	}
	return task, ""
}

// Keys present in the body are updated, keys absent are left alone.
type updateTaskRequest struct {
	TaskName nullable.Nullable[string] `json:"task_name"`
	Category nullable.Nullable[string] `json:"category"`
	DueDate  nullable.Nullable[string] `json:"due_date"`
	DueTime  nullable.Nullable[string] `json:"due_time"`
	Priority nullable.Nullable[string] `json:"priority"`
	Status   nullable.Nullable[string] `json:"status"`
}

// PUT /api/tasks/{id}
func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request, id int64) {
	userID := UserIDFromContext(r.Context())

	var input updateTaskRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	patch, msg := h.taskPatch(input)
	if msg != "" {
		sendError(w, msg, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	if err := h.TaskRepo.UpdateOwned(ctx, id, userID, patch); err != nil {
		h.writeTaskError(w, r, "update task", err)
		return
	}

	var status models.TaskStatus
	if patch.Status != nil {
		status = *patch.Status
	}
	h.notify(userID, EventTaskUpdated, id, status)
	sendMessage(w, "Task updated successfully!", http.StatusOK)
}

func (h *Handler) taskPatch(input updateTaskRequest) (models.TaskPatch, string) {
	var patch models.TaskPatch
	if input.TaskName.IsSpecified() {
		patch.TaskName = optionalText(input.TaskName)
	}
	if input.Category.IsSpecified() {
		patch.Category = optionalText(input.Category)
	}
	if input.DueDate.IsSpecified() {
		patch.DueDate.SetNull()
		if raw := models.ValueOf(input.DueDate); !blank(raw) {
			due, err := models.ParseDate(*raw, h.location())
			if err != nil {
				return patch, "Invalid due date."
			}
			patch.DueDate.Set(due)
		}
	}
	if input.DueTime.IsSpecified() {
		patch.DueTime.SetNull()
		if raw := models.ValueOf(input.DueTime); !blank(raw) {
			at, err := models.ParseTimeOfDay(*raw)
			if err != nil {
				return patch, "Invalid due time."
			}
			patch.DueTime.Set(at)
		}
	}
	if input.Priority.IsSpecified() {
		raw, _ := input.Priority.Get()
		priority := models.Priority(raw)
		if !priority.Valid() {
			return patch, "Invalid priority."
		}
		patch.Priority = &priority
	}
	if input.Status.IsSpecified() {
		raw, _ := input.Status.Get()
		status := models.NormalizeStatus(raw)
		if status == "" {
			return patch, "Invalid status."
		}
		patch.Status = &status
	}
	return patch, ""
}

// optionalText turns "" into null.
func optionalText(n nullable.Nullable[string]) nullable.Nullable[string] {
	if v := models.ValueOf(n); !blank(v) {
		return nullable.NewNullableWithValue(*v)
	}
	return nullable.NewNullNullable[string]()
}

type statusRequest struct {
	Completed truthy `json:"completed"`
}

// truthy accepts any JSON value: false, null, 0 and "" are false,
// everything else is true.
type truthy bool

func (t *truthy) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*t = false
	case bool:
		*t = truthy(v)
	case float64:
		*t = v != 0
	case string:
		*t = v != ""
	default:
		*t = true
	}
	return nil
}

type statusResponse struct {
	Message   string            `json:"message"`
	TaskID    int64             `json:"taskId"`
	NewStatus models.TaskStatus `json:"newStatus"`
}

// PUT /api/tasks/{id}/status
func (h *Handler) setTaskCompleted(w http.ResponseWriter, r *http.Request, id int64) {
	userID := UserIDFromContext(r.Context())

	var input statusRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	status := models.TaskStatusNotStarted
	if bool(input.Completed) {
		status = models.TaskStatusDone
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	if err := h.TaskRepo.SetStatusOwned(ctx, id, userID, status); err != nil {
		h.writeTaskError(w, r, "set task status", err)
		return
	}
	h.notify(userID, EventTaskUpdated, id, status)
	sendJSON(w, statusResponse{
		Message:   "Task status updated successfully.",
		TaskID:    id,
		NewStatus: status,
	}, http.StatusOK)
}

// PUT /api/tasks/cancel/{id}
func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	owner, err := h.TaskRepo.SetStatus(ctx, id, models.TaskStatusCancelled)
	if err != nil {
		h.writeNotFoundOr(w, r, "cancel task", err, "Internal server error")
		return
	}
	h.notify(owner, EventTaskCancelled, id, models.TaskStatusCancelled)
	sendMessage(w, `Task status updated to "annule"`, http.StatusOK)
}

// DELETE /api/tasks/{id}
func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	owner, err := h.TaskRepo.Delete(ctx, id)
	if err != nil {
		h.writeNotFoundOr(w, r, "delete task", err, "Internal error while deleting task.")
		return
	}
	h.notify(owner, EventTaskDeleted, id, "")
	sendMessage(w, "Task deleted successfully!", http.StatusOK)
}

type restoreResponse struct {
	Message string            `json:"message"`
	TaskID  int64             `json:"taskId"`
	Status  models.TaskStatus `json:"status"`
}

// PUT /api/restore/{id}
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	id, ok := parseTaskID(w, strings.TrimPrefix(r.URL.Path, "/api/restore/"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	owner, err := h.TaskRepo.SetStatus(ctx, id, models.TaskStatusNotStarted)
	if err != nil {
		h.writeNotFoundOr(w, r, "restore task", err, "Internal error while restoring task.")
		return
	}
	h.notify(owner, EventTaskRestored, id, models.TaskStatusNotStarted)
	sendJSON(w, restoreResponse{
		Message: "Task restored successfully.",
		TaskID:  id,
		Status:  models.TaskStatusNotStarted,
	}, http.StatusOK)
}

func (h *Handler) writeNotFoundOr(w http.ResponseWriter, r *http.Request, op string, err error, msg string) {
	if errors.Is(err, models.ErrNotFound) {
		sendError(w, "Task not found.", http.StatusNotFound)
		return
	}
	h.storageFailure(w, r, op, err, msg)
}
