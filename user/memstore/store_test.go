package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/liestudio/studio/user"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAssignsSequentialUIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	admin, err := s.Create(ctx, &user.Create{Username: "admin", Role: user.RoleAdmin})
	if err != nil {
		t.Fatalf("Create admin: %v", err)
	}
	if admin.UID != user.AdminUID {
		t.Fatalf("first uid = %d, want 0", admin.UID)
	}

	bob, err := s.Create(ctx, &user.Create{Username: "bob", Email: "bob@example.org", Role: user.RoleDefault})
	if err != nil {
		t.Fatalf("Create bob: %v", err)
	}
	if bob.UID != 1 {
		t.Fatalf("second uid = %d, want 1", bob.UID)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, &user.Create{Username: "bob", Email: "bob@example.org"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, &user.Create{Username: "BOB", Email: "other@example.org"}); !errors.Is(err, user.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := s.Create(ctx, &user.Create{Username: "robert", Email: "Bob@Example.org"}); !errors.Is(err, user.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, _ := s.Create(ctx, &user.Create{Username: "alice", Email: "alice@example.org"})
	sid := "4242"
	if _, err := s.Update(ctx, created.UID, &user.Update{SessionID: &sid}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	byName, err := s.GetByUsername(ctx, "Alice")
	if err != nil || byName == nil || byName.UID != created.UID {
		t.Fatalf("GetByUsername = %+v, %v", byName, err)
	}
	byMail, err := s.GetByEmail(ctx, "alice@example.org")
	if err != nil || byMail == nil {
		t.Fatalf("GetByEmail = %+v, %v", byMail, err)
	}
	bySession, err := s.GetBySessionID(ctx, sid)
	if err != nil || bySession == nil || bySession.Username != "alice" {
		t.Fatalf("GetBySessionID = %+v, %v", bySession, err)
	}

	missing, err := s.GetByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing user, got %+v, %v", missing, err)
	}
	if u, _ := s.GetBySessionID(ctx, ""); u != nil {
		t.Fatal("empty session id must not match")
	}
}

func TestReturnedUsersAreCopies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, _ := s.Create(ctx, &user.Create{Username: "alice", Email: "alice@example.org", Role: user.RoleDefault})
	created.Role = user.RoleAdmin

	got, _ := s.GetByUID(ctx, created.UID)
	if got.Role != user.RoleDefault {
		t.Fatalf("stored user was mutated through returned pointer: %q", got.Role)
	}
}

func TestUpdateMissingUser(t *testing.T) {
	s := newStore(t)
	role := user.RoleAdmin
	if _, err := s.Update(context.Background(), 7, &user.Update{Role: &role}); !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestClearSessions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		u, _ := s.Create(ctx, &user.Create{Username: name, Email: name + "@example.org"})
		if i < 2 {
			sid := name + "-session"
			_, _ = s.Update(ctx, u.UID, &user.Update{SessionID: &sid})
		}
	}

	n, err := s.ClearSessions(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ClearSessions = %d, %v", n, err)
	}
	if u, _ := s.GetBySessionID(ctx, "a-session"); u != nil {
		t.Fatal("session still bound after ClearSessions")
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, _ := s.Create(ctx, &user.Create{Username: "gone", Email: "gone@example.org"})
	if err := s.Delete(ctx, u.UID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.GetByUID(ctx, u.UID); got != nil {
		t.Fatal("user still present after Delete")
	}
	if err := s.Delete(ctx, u.UID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
