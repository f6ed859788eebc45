package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/liestudio/studio/user"
)

func TestTranslateUniqueViolation(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"users_username_idx", user.ErrUsernameTaken},
		{"users_email_idx", user.ErrEmailTaken},
	}
	for _, tc := range cases {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation, ConstraintName: tc.constraint})
		if got := translate(err); !errors.Is(got, tc.want) {
			t.Fatalf("translate(%s) = %v, want %v", tc.constraint, got, tc.want)
		}
	}

	other := errors.New("boom")
	if got := translate(other); got != other {
		t.Fatalf("unrelated error changed: %v", got)
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Fatal("empty string must map to NULL")
	}
	if nullable("x") != "x" {
		t.Fatal("non-empty string must pass through")
	}
}

// TestRepositoryAgainstPostgres runs when LIESTUDIO_TEST_PG_DSN points to a
// disposable database.
func TestRepositoryAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("LIESTUDIO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LIESTUDIO_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	driver := New(dsn)
	if err := driver.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer driver.Close()

	repo := driver.Users()
	if _, err := repo.db.Exec(ctx, "TRUNCATE users"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	admin, err := repo.Create(ctx, &user.Create{Username: "admin", PasswordHash: "x", Role: user.RoleAdmin})
	if err != nil || admin.UID != 0 {
		t.Fatalf("Create admin = %+v, %v", admin, err)
	}
	bob, err := repo.Create(ctx, &user.Create{Username: "bob", Email: "bob@example.org", PasswordHash: "x", Role: user.RoleDefault})
	if err != nil || bob.UID != 1 {
		t.Fatalf("Create bob = %+v, %v", bob, err)
	}
	if _, err := repo.Create(ctx, &user.Create{Username: "Bob", Email: "b2@example.org", PasswordHash: "x"}); !errors.Is(err, user.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	sid := "99"
	if _, err := repo.Update(ctx, bob.UID, &user.Update{SessionID: &sid}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.GetBySessionID(ctx, sid)
	if err != nil || got == nil || got.Username != "bob" {
		t.Fatalf("GetBySessionID = %+v, %v", got, err)
	}

	n, err := repo.ClearSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ClearSessions = %d, %v", n, err)
	}

	if _, err := repo.Update(ctx, 42, &user.Update{SessionID: &sid}); !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
