package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chepyr/daily-planner/internal/models"
	"github.com/jmoiron/sqlx"
)

const taskColumns = `id, user_id, task_name, category, due_date, due_time, priority, status`

// priority then id, so equal priorities keep insertion order
const orderByPriority = `ORDER BY CASE priority
	WHEN 'urgent' THEN 0 WHEN 'important' THEN 1 ELSE 2 END, id`

const orderByStatus = `ORDER BY CASE status
	WHEN 'pas commence' THEN 0 WHEN 'en cours' THEN 1 WHEN 'termine' THEN 2 ELSE 3 END, id`

type TaskRepository struct {
	db *sqlx.DB
}

func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts the task and returns the generated id.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) (int64, error) {
	query := `INSERT INTO tasks (user_id, task_name, category, due_date, due_time, priority, status)
	 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		task.UserID, task.TaskName, task.Category, task.DueDate, task.DueTime,
		task.Priority, task.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task := &models.Task{}
	if err := r.db.GetContext(ctx, task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// CountDueOn counts the user's tasks due on day whose status is one of statuses.
func (r *TaskRepository) CountDueOn(ctx context.Context, userID string, day models.Date, statuses ...models.TaskStatus) (int, error) {
	query, args, err := sqlx.In(
		`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND due_date = ? AND status IN (?)`,
		userID, day, statuses)
	if err != nil {
		return 0, fmt.Errorf("count tasks due: %w", err)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count tasks due: %w", err)
	}
	return count, nil
}

// ListDueOn returns the user's tasks due on day, most urgent first.
func (r *TaskRepository) ListDueOn(ctx context.Context, userID string, day models.Date, statuses ...models.TaskStatus) ([]models.Task, error) {
	query, args, err := sqlx.In(
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND due_date = ? AND status IN (?) `+orderByPriority,
		userID, day, statuses)
	if err != nil {
		return nil, fmt.Errorf("list tasks due: %w", err)
	}
	return r.selectTasks(ctx, "list tasks due", r.db.Rebind(query), args...)
}

// ListByUser returns every task of the user ordered by status precedence.
func (r *TaskRepository) ListByUser(ctx context.Context, userID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1 ` + orderByStatus
	return r.selectTasks(ctx, "list user tasks", query, userID)
}

// ListByStatus is not scoped to a user.
func (r *TaskRepository) ListByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY id`
	return r.selectTasks(ctx, "list tasks by status", query, status)
}

func (r *TaskRepository) selectTasks(ctx context.Context, op, query string, args ...any) ([]models.Task, error) {
	tasks := []models.Task{}
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

// UpdateOwned applies patch to a task owned by userID. The ownership check
// and the update share one transaction. It returns ErrForbidden when the
// user owns no task with that id and ErrNotFound when the update touches
// no row.
func (r *TaskRepository) UpdateOwned(ctx context.Context, id int64, userID string, patch models.TaskPatch) error {
	if patch.Empty() {
		return models.ErrInvalidInput
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.TaskName.IsSpecified() {
		set("task_name", models.ValueOf(patch.TaskName))
	}
	if patch.Category.IsSpecified() {
		set("category", models.ValueOf(patch.Category))
	}
	if patch.DueDate.IsSpecified() {
		due, at := models.Date{}, models.TimeOfDay{}
		if d, err := patch.DueDate.Get(); err == nil {
			due, at = d, models.Midnight
			if t, err := patch.DueTime.Get(); err == nil {
				at = t
			}
		}
		set("due_date", due)
		set("due_time", at)
	}
	if patch.Priority != nil {
		set("priority", *patch.Priority)
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	return r.withOwnedTask(ctx, id, userID, func(tx *sqlx.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, query, args...)
	})
}

// SetStatusOwned is the ownership-checked counterpart of SetStatus.
func (r *TaskRepository) SetStatusOwned(ctx context.Context, id int64, userID string, status models.TaskStatus) error {
	return r.withOwnedTask(ctx, id, userID, func(tx *sqlx.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, status, id)
	})
}

func (r *TaskRepository) withOwnedTask(ctx context.Context, id int64, userID string, update func(*sqlx.Tx) (sql.Result, error)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var owned bool
	query := `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1 AND user_id = $2)`
	if err := tx.GetContext(ctx, &owned, query, id, userID); err != nil {
		return fmt.Errorf("check task ownership: %w", err)
	}
	if !owned {
		return models.ErrForbidden
	}

	res, err := update(tx)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetStatus overwrites the status of any task and returns its owner.
func (r *TaskRepository) SetStatus(ctx context.Context, id int64, status models.TaskStatus) (string, error) {
	query := `UPDATE tasks SET status = $1 WHERE id = $2 RETURNING user_id`
	var owner string
	if err := r.db.QueryRowxContext(ctx, query, status, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("set task status: %w", err)
	}
	return owner, nil
}

// Delete removes the row and returns its former owner.
func (r *TaskRepository) Delete(ctx context.Context, id int64) (string, error) {
	query := `DELETE FROM tasks WHERE id = $1 RETURNING user_id`
	var owner string
	if err := r.db.QueryRowxContext(ctx, query, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("delete task: %w", err)
	}
	return owner, nil
}
