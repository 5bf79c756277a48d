package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// backend はリポジトリ契約テストの対象となるバックエンド一式。
type backend struct {
	users    UserRepository
	todos    TodoRepository
	sessions SessionRepository
}

// runRepositoryContract はすべてのバックエンドに共通する契約を検証する。
func runRepositoryContract(t *testing.T, newBackend func(t *testing.T) backend) {
	t.Helper()

	// 作成直後のタスクはcompleted=false、優先度省略時はmedium
	t.Run("Create_DefaultsAndCompletedFalse", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		todo, err := b.todos.Create(ctx, model.NewTodo{Title: "Buy milk"}, alice.ID)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if todo.ID == "" {
			t.Error("expected non-empty ID")
		}
		if todo.Completed {
			t.Error("Completed = true, want false")
		}
		if todo.Priority != model.PriorityMedium {
			t.Errorf("Priority = %q, want %q", todo.Priority, model.PriorityMedium)
		}
		if todo.Description != "" {
			t.Errorf("Description = %q, want empty", todo.Description)
		}
		if todo.UserID != alice.ID {
			t.Errorf("UserID = %q, want %q", todo.UserID, alice.ID)
		}

		found, err := b.todos.FindByID(ctx, todo.ID)
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if found == nil {
			t.Fatal("FindByID returned nil for created todo")
		}
		if found.Title != "Buy milk" || found.Completed {
			t.Errorf("unexpected stored todo: %+v", found)
		}
	})

	t.Run("Create_AssignsUniqueIDs", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		seen := make(map[string]bool)
		for i := 0; i < 5; i++ {
			todo, err := b.todos.Create(ctx, model.NewTodo{Title: "same"}, alice.ID)
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if seen[todo.ID] {
				t.Fatalf("duplicate ID %q", todo.ID)
			}
			seen[todo.ID] = true
		}
	})

	// 所有者ごとに一覧が分離され、作成順で返ること
	t.Run("ListByOwner_ScopedAndOrdered", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")
		bob := mustCreateUser(t, b.users, "bob")

		titles := []string{"first", "second", "third"}
		for _, title := range titles {
			if _, err := b.todos.Create(ctx, model.NewTodo{Title: title, Priority: model.PriorityLow}, alice.ID); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			// 作成時刻で順序付けるバックエンドのために間隔を空ける
			time.Sleep(2 * time.Millisecond)
		}
		if _, err := b.todos.Create(ctx, model.NewTodo{Title: "bob's"}, bob.ID); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		got, err := b.todos.ListByOwner(ctx, alice.ID)
		if err != nil {
			t.Fatalf("ListByOwner returned error: %v", err)
		}
		if len(got) != len(titles) {
			t.Fatalf("len = %d, want %d", len(got), len(titles))
		}
		for i, todo := range got {
			if todo.Title != titles[i] {
				t.Errorf("got[%d].Title = %q, want %q", i, todo.Title, titles[i])
			}
			if todo.UserID != alice.ID {
				t.Errorf("got[%d].UserID = %q, want %q", i, todo.UserID, alice.ID)
			}
		}

		bobs, err := b.todos.ListByOwner(ctx, bob.ID)
		if err != nil {
			t.Fatalf("ListByOwner returned error: %v", err)
		}
		if len(bobs) != 1 || bobs[0].Title != "bob's" {
			t.Errorf("bob's list = %+v, want one todo", bobs)
		}
	})

	// 間隔を空けずに連続作成しても作成順に並ぶ（作成時刻が同じ場合はIDで決まる）
	t.Run("ListByOwner_RapidCreatesKeepOrder", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		var want []string
		for i := 0; i < 50; i++ {
			todo, err := b.todos.Create(ctx, model.NewTodo{Title: fmt.Sprintf("todo-%02d", i)}, alice.ID)
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			want = append(want, todo.ID)
		}

		got, err := b.todos.ListByOwner(ctx, alice.ID)
		if err != nil {
			t.Fatalf("ListByOwner returned error: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i, todo := range got {
			if todo.ID != want[i] {
				t.Fatalf("got[%d] = %s (%s), want %s", i, todo.ID, todo.Title, want[i])
			}
		}
	})

	t.Run("ListByOwner_UnknownOwnerReturnsEmpty", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for _, owner := range []string{"no-such-user", "", "00000000-0000-0000-0000-000000000000"} {
			got, err := b.todos.ListByOwner(ctx, owner)
			if err != nil {
				t.Fatalf("ListByOwner(%q) returned error: %v", owner, err)
			}
			if got == nil {
				t.Errorf("ListByOwner(%q) = nil, want empty slice", owner)
			}
			if len(got) != 0 {
				t.Errorf("ListByOwner(%q) len = %d, want 0", owner, len(got))
			}
		}
	})

	t.Run("FindByID_MissingReturnsNil", func(t *testing.T) {
		b := newBackend(t)
		for _, id := range []string{"missing", "507f1f77bcf86cd799439011", "6f1c3f0e-8d7f-4a4e-9d55-1f3b1d1e1a11"} {
			got, err := b.todos.FindByID(context.Background(), id)
			if err != nil {
				t.Fatalf("FindByID(%q) returned error: %v", id, err)
			}
			if got != nil {
				t.Errorf("FindByID(%q) = %+v, want nil", id, got)
			}
		}
	})

	// priorityのみの更新は他のフィールドを変更しないこと
	t.Run("Update_MergesOnlyGivenFields", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		created, err := b.todos.Create(ctx, model.NewTodo{Title: "Write report", Description: "quarterly", Priority: model.PriorityLow}, alice.ID)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		high := model.PriorityHigh
		updated, err := b.todos.Update(ctx, created.ID, model.TodoPatch{Priority: &high})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		if updated.Priority != model.PriorityHigh {
			t.Errorf("Priority = %q, want high", updated.Priority)
		}
		if updated.Title != created.Title || updated.Description != created.Description ||
			updated.Completed != created.Completed || updated.UserID != created.UserID || updated.ID != created.ID {
			t.Errorf("Update changed other fields: before %+v, after %+v", created, updated)
		}

		found, err := b.todos.FindByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if found.Priority != model.PriorityHigh || found.Title != "Write report" {
			t.Errorf("stored todo = %+v", found)
		}
	})

	t.Run("Update_Completed", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		created, err := b.todos.Create(ctx, model.NewTodo{Title: "Run"}, alice.ID)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		done := true
		title := "Run 5k"
		updated, err := b.todos.Update(ctx, created.ID, model.TodoPatch{Completed: &done, Title: &title})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		if !updated.Completed || updated.Title != "Run 5k" {
			t.Errorf("updated = %+v", updated)
		}

		// 空のパッチは内容を変えずにレコードを返す
		same, err := b.todos.Update(ctx, created.ID, model.TodoPatch{})
		if err != nil {
			t.Fatalf("Update with empty patch returned error: %v", err)
		}
		if !same.Completed || same.Title != "Run 5k" {
			t.Errorf("empty patch result = %+v", same)
		}
	})

	t.Run("Update_MissingReturnsErrNotFound", func(t *testing.T) {
		b := newBackend(t)
		done := true
		for _, id := range []string{"missing", "507f1f77bcf86cd799439011", "6f1c3f0e-8d7f-4a4e-9d55-1f3b1d1e1a11"} {
			_, err := b.todos.Update(context.Background(), id, model.TodoPatch{Completed: &done})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Update(%q) error = %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("DeleteByID_ThenFindReturnsNil", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")

		created, err := b.todos.Create(ctx, model.NewTodo{Title: "temp"}, alice.ID)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := b.todos.DeleteByID(ctx, created.ID); err != nil {
			t.Fatalf("DeleteByID returned error: %v", err)
		}

		found, err := b.todos.FindByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if found != nil {
			t.Errorf("FindByID after delete = %+v, want nil", found)
		}

		// 2回目の削除はErrNotFound
		if err := b.todos.DeleteByID(ctx, created.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second DeleteByID error = %v, want ErrNotFound", err)
		}

		list, err := b.todos.ListByOwner(ctx, alice.ID)
		if err != nil {
			t.Fatalf("ListByOwner returned error: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("ListByOwner after delete len = %d, want 0", len(list))
		}
	})

	t.Run("Users_CreateAndFind", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		created, err := b.users.Create(ctx, "alice", "hashed.salt")
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if created.ID == "" || created.Username != "alice" || created.PasswordHash != "hashed.salt" {
			t.Errorf("unexpected user: %+v", created)
		}

		byName, err := b.users.FindByUsername(ctx, "alice")
		if err != nil {
			t.Fatalf("FindByUsername returned error: %v", err)
		}
		if byName == nil || byName.ID != created.ID {
			t.Errorf("FindByUsername = %+v, want ID %q", byName, created.ID)
		}

		byID, err := b.users.FindByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if byID == nil || byID.Username != "alice" {
			t.Errorf("FindByID = %+v, want alice", byID)
		}

		missing, err := b.users.FindByUsername(ctx, "nobody")
		if err != nil {
			t.Fatalf("FindByUsername returned error: %v", err)
		}
		if missing != nil {
			t.Errorf("FindByUsername(nobody) = %+v, want nil", missing)
		}

		missingID, err := b.users.FindByID(ctx, "not-an-id")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if missingID != nil {
			t.Errorf("FindByID(not-an-id) = %+v, want nil", missingID)
		}
	})

	t.Run("Users_DuplicateUsername", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if _, err := b.users.Create(ctx, "alice", "h1"); err != nil {
			t.Fatalf("first Create returned error: %v", err)
		}
		if _, err := b.users.Create(ctx, "alice", "h2"); !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("second Create error = %v, want ErrUsernameTaken", err)
		}
	})

	t.Run("Sessions_Lifecycle", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		alice := mustCreateUser(t, b.users, "alice")
		now := time.Now().UTC()

		live := &model.Session{ID: "live-session", UserID: alice.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		expired := &model.Session{ID: "expired-session", UserID: alice.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
		for _, s := range []*model.Session{live, expired} {
			if err := b.sessions.Create(ctx, s); err != nil {
				t.Fatalf("Create(%s) returned error: %v", s.ID, err)
			}
		}

		got, err := b.sessions.FindByID(ctx, "live-session")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if got == nil || got.UserID != alice.ID {
			t.Fatalf("FindByID(live) = %+v, want session of alice", got)
		}

		got, err = b.sessions.FindByID(ctx, "expired-session")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if got != nil {
			t.Errorf("FindByID(expired) = %+v, want nil", got)
		}

		n, err := b.sessions.DeleteExpired(ctx)
		if err != nil {
			t.Fatalf("DeleteExpired returned error: %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteExpired = %d, want 1", n)
		}

		if err := b.sessions.DeleteByID(ctx, "live-session"); err != nil {
			t.Fatalf("DeleteByID returned error: %v", err)
		}
		got, err = b.sessions.FindByID(ctx, "live-session")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if got != nil {
			t.Errorf("FindByID after delete = %+v, want nil", got)
		}
	})
}

func mustCreateUser(t *testing.T, repo UserRepository, username string) *model.User {
	t.Helper()
	u, err := repo.Create(context.Background(), username, "hash-of-"+username)
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}
	return u
}
