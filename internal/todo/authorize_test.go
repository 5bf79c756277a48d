package todo

import (
	"testing"

	"github.com/hitoshi/todoman/internal/model"
)

func TestAuthorize(t *testing.T) {
	owned := &model.Todo{ID: "t1", UserID: "alice"}

	tests := []struct {
		name   string
		userID string
		todo   *model.Todo
		want   Decision
	}{
		{"所有者は許可", "alice", owned, Permit},
		{"他ユーザーは拒否", "bob", owned, Deny},
		{"空のユーザーIDは拒否", "", owned, Deny},
		{"所有者IDが空のタスクに空IDでも拒否", "", &model.Todo{ID: "t2"}, Deny},
		{"nilのタスクは拒否", "alice", nil, Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.userID, tt.todo); got != tt.want {
				t.Errorf("Authorize(%q) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestDecision_ZeroValueIsDeny(t *testing.T) {
	var d Decision
	if d != Deny {
		t.Errorf("zero Decision = %v, want deny", d)
	}
	if Permit.String() != "permit" || Deny.String() != "deny" {
		t.Errorf("unexpected String(): %q %q", Permit.String(), Deny.String())
	}
}
