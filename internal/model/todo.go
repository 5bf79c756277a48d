package model

import "time"

// Priority はタスクの優先度を表す。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority は優先度が省略された場合に使用する値。
const DefaultPriority = PriorityMedium

// Valid は優先度が定義済みの値かどうかを判定する。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Todo はユーザーが所有するタスクを表す。
// IDとUserIDはバックエンドに関わらず不透明な文字列として扱う。
type Todo struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Completed   bool
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewTodo はタスク作成時の入力値。
// 作成時のcompletedは常にfalseのため、フィールドを持たない。
type NewTodo struct {
	Title       string
	Description string
	Priority    Priority
}

// TodoPatch はタスクの部分更新を表す。
// nilのフィールドは既存の値を維持する。
type TodoPatch struct {
	Title       *string
	Description *string
	Priority    *Priority
	Completed   *bool
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (p TodoPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Completed == nil
}

// Apply はパッチを既存のタスクにマージする。
func (p TodoPatch) Apply(t *Todo) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}
