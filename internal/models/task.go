package models

import (
	"strings"
	"unicode"

	"github.com/oapi-codegen/nullable"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Priority string

const (
	PriorityUrgent        Priority = "urgent"
	PriorityImportant     Priority = "important"
	PriorityLessImportant Priority = "moins important"
)

// Priorities lists every priority from the most to the least pressing.
var Priorities = []Priority{PriorityUrgent, PriorityImportant, PriorityLessImportant}

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityImportant, PriorityLessImportant:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "pas commence"
	TaskStatusInProgress TaskStatus = "en cours"
	TaskStatusDone       TaskStatus = "termine"
	TaskStatusCancelled  TaskStatus = "annule"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusDone, TaskStatusCancelled:
		return true
	}
	return false
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeStatus maps user input ("Terminé", " pas commencé", "EN COURS")
// to a canonical status. It returns "" for anything unknown.
func NormalizeStatus(s string) TaskStatus {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		return ""
	}
	folded = strings.Join(strings.Fields(strings.ToLower(folded)), " ")
	switch status := TaskStatus(folded); status {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusDone, TaskStatusCancelled:
		return status
	}
	return ""
}

// Task is a row of the tasks table.
type Task struct {
	ID       int64      `db:"id" json:"id"`
	UserID   string     `db:"user_id" json:"user_id"`
	TaskName *string    `db:"task_name" json:"task_name"`
	Category *string    `db:"category" json:"category"`
	DueDate  Date       `db:"due_date" json:"due_date"`
	DueTime  TimeOfDay  `db:"due_time" json:"due_time"`
	Priority Priority   `db:"priority" json:"priority"`
	Status   TaskStatus `db:"status" json:"status"`
}

// TaskPatch carries the fields of a partial update. Unspecified fields are
// left alone and null ones are cleared. A zero TaskPatch updates nothing.
type TaskPatch struct {
	TaskName nullable.Nullable[string]
	Category nullable.Nullable[string]
	// DueDate is written together with DueTime, midnight when DueTime is unset.
	DueDate  nullable.Nullable[Date]
	DueTime  nullable.Nullable[TimeOfDay]
	Priority *Priority
	Status   *TaskStatus
}

func (p TaskPatch) Empty() bool {
	return !p.TaskName.IsSpecified() && !p.Category.IsSpecified() && !p.DueDate.IsSpecified() &&
		p.Priority == nil && p.Status == nil
}

// ValueOf returns nil for a null or unspecified n.
func ValueOf[T any](n nullable.Nullable[T]) *T {
	v, err := n.Get()
	if err != nil {
		return nil
	}
	return &v
}
