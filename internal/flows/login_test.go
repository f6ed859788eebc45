package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
)

var (
	errNotReady    = errors.New("not ready")
	errInvalid     = errors.New("invalid ticket")
	errRateLimited = errors.New("rate limited")
)

type loginFixture struct {
	users     map[string]*user.User
	passwords map[string]string
	records   []*session.Record
	failures  int
	resets    int
	metrics   map[int]int
	audits    []AuditRecord
}

func newLoginFixture() *loginFixture {
	return &loginFixture{
		users: map[string]*user.User{
			"alice": {UID: 7, Username: "alice", Email: "alice@example.com", Role: user.RoleDefault},
		},
		passwords: map[string]string{"alice": "s3cret"},
		metrics:   map[int]int{},
	}
}

func (f *loginFixture) deps() LoginDeps {
	return LoginDeps{
		SessionTTL: time.Hour,
		CheckRate: func(context.Context, string, string) error {
			if f.failures >= 3 {
				return errRateLimited
			}
			return nil
		},
		IncrementRate: func(context.Context, string, string) error {
			f.failures++
			return nil
		},
		ResetRate: func(context.Context, string, string) error {
			f.resets++
			return nil
		},
		ValidatePassword: func(_ context.Context, username, plain string) (*user.User, error) {
			if f.passwords[username] == plain {
				return f.users[username], nil
			}
			return nil, nil
		},
		VerifyRemember: func(token string) (*RememberClaims, error) {
			if token == "token-alice" {
				return &RememberClaims{UID: "7", Username: "alice"}, nil
			}
			return nil, errors.New("bad token")
		},
		GetUserByUsername: func(_ context.Context, username string) (*user.User, error) {
			return f.users[username], nil
		},
		BindSession: func(_ context.Context, uid int64, sid string) (*user.User, error) {
			for _, u := range f.users {
				if u.UID == uid {
					cp := *u
					cp.SessionID = sid
					return &cp, nil
				}
			}
			return nil, user.ErrUserNotFound
		},
		SaveRecord: func(_ context.Context, rec *session.Record) error {
			f.records = append(f.records, rec)
			return nil
		},
		IssueRemember: func(uid, username, sid string) (string, error) {
			return "issued:" + uid + ":" + username + ":" + sid, nil
		},
		MetricInc: func(id int) { f.metrics[id]++ },
		EmitAudit: func(_ context.Context, r AuditRecord) { f.audits = append(f.audits, r) },
		Metrics: LoginMetrics{
			LoginSuccess:     1,
			LoginFailure:     2,
			LoginRateLimited: 3,
			SessionCreated:   4,
		},
		Errors: LoginErrors{
			NotReady:      errNotReady,
			InvalidTicket: errInvalid,
			RateLimited:   errRateLimited,
		},
		AuditName: "login",
	}
}

func TestRunLoginWithPassword(t *testing.T) {
	f := newLoginFixture()
	res, err := RunLogin(context.Background(), LoginRequest{
		AuthID:    " alice ",
		Ticket:    "s3cret",
		SessionID: "4242",
		Remember:  true,
	}, f.deps())
	if err != nil {
		t.Fatalf("RunLogin: %v", err)
	}
	if res.User.SessionID != "4242" {
		t.Fatalf("expected bound session 4242, got %q", res.User.SessionID)
	}
	if res.ViaToken {
		t.Fatal("password login reported as token login")
	}
	if res.RememberToken != "issued:7:alice:4242" {
		t.Fatalf("unexpected remember token %q", res.RememberToken)
	}
	if len(f.records) != 1 || f.records[0].AuthMethod != "ticket" || f.records[0].UserID != "7" {
		t.Fatalf("unexpected registry records: %+v", f.records)
	}
	if f.records[0].ExpiresAt-f.records[0].CreatedAt != int64(time.Hour/time.Second) {
		t.Fatalf("record lifetime mismatch: %+v", f.records[0])
	}
	if f.resets != 1 || f.metrics[1] != 1 || f.metrics[4] != 1 {
		t.Fatalf("resets=%d metrics=%v", f.resets, f.metrics)
	}
	if len(f.audits) != 1 || !f.audits[0].Success {
		t.Fatalf("expected one successful audit, got %+v", f.audits)
	}
}

func TestRunLoginWithRememberToken(t *testing.T) {
	f := newLoginFixture()
	res, err := RunLogin(context.Background(), LoginRequest{
		AuthID:    "alice",
		Ticket:    "token-alice",
		SessionID: "1",
	}, f.deps())
	if err != nil {
		t.Fatalf("RunLogin: %v", err)
	}
	if !res.ViaToken || res.RememberToken != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.records[0].AuthMethod != "remember" {
		t.Fatalf("expected remember auth method, got %q", f.records[0].AuthMethod)
	}
}

func TestRunLoginTokenForOtherUserRejected(t *testing.T) {
	f := newLoginFixture()
	f.users["bob"] = &user.User{UID: 8, Username: "bob"}
	_, err := RunLogin(context.Background(), LoginRequest{AuthID: "bob", Ticket: "token-alice"}, f.deps())
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid ticket, got %v", err)
	}
}

func TestRunLoginWrongPasswordCountsFailure(t *testing.T) {
	f := newLoginFixture()
	for i := 0; i < 3; i++ {
		_, err := RunLogin(context.Background(), LoginRequest{AuthID: "alice", Ticket: "nope"}, f.deps())
		if !errors.Is(err, errInvalid) {
			t.Fatalf("attempt %d: expected invalid ticket, got %v", i, err)
		}
	}
	if f.failures != 3 || f.metrics[2] != 3 {
		t.Fatalf("failures=%d metrics=%v", f.failures, f.metrics)
	}

	_, err := RunLogin(context.Background(), LoginRequest{AuthID: "alice", Ticket: "s3cret"}, f.deps())
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if f.metrics[3] != 1 {
		t.Fatalf("expected rate limit metric, got %v", f.metrics)
	}
	if len(f.records) != 0 {
		t.Fatal("no session must be recorded for rejected logins")
	}
}

func TestRunLoginAccessDenied(t *testing.T) {
	f := newLoginFixture()
	deps := f.deps()
	denied := errors.New("denied")
	deps.CheckAccess = func(domain string) error {
		if domain == "evil.example.com" {
			return denied
		}
		return nil
	}
	_, err := RunLogin(context.Background(), LoginRequest{AuthID: "alice", Ticket: "s3cret", Domain: "evil.example.com"}, deps)
	if !errors.Is(err, denied) {
		t.Fatalf("expected access error, got %v", err)
	}
	if len(f.audits) != 1 || f.audits[0].Domain != "evil.example.com" || f.audits[0].Success {
		t.Fatalf("unexpected audits %+v", f.audits)
	}
}

func TestRunLoginNotReady(t *testing.T) {
	_, err := RunLogin(context.Background(), LoginRequest{AuthID: "alice"}, LoginDeps{Errors: LoginErrors{NotReady: errNotReady}})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestRunLoginWithoutSessionSkipsRecord(t *testing.T) {
	f := newLoginFixture()
	res, err := RunLogin(context.Background(), LoginRequest{AuthID: "alice", Ticket: "s3cret"}, f.deps())
	if err != nil {
		t.Fatalf("RunLogin: %v", err)
	}
	if res.User.SessionID != "" || len(f.records) != 0 {
		t.Fatalf("unexpected session binding: %+v %+v", res.User, f.records)
	}
}
