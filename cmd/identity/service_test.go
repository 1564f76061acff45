package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func newTestService(t *testing.T, salt string) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(log, store, salt), store
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "v1")
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		password string
		wantMsg  string
	}{
		{name: "empty username", username: "", password: "pw12345", wantMsg: msgEmptyCredentials},
		{name: "empty password", username: "ann", password: "", wantMsg: msgEmptyCredentials},
		{name: "non-alphanumeric username", username: "ann!", password: "pw12345", wantMsg: msgInvalidCharacters},
		{name: "non-alphanumeric password", username: "ann", password: "p w", wantMsg: msgInvalidCharacters},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Register(ctx, tc.username, tc.password)
			if err != nil {
				t.Fatalf("Register: %v", err)
			}
			if res.Status != StatusError || res.Message != tc.wantMsg {
				t.Fatalf("res=%+v want message=%q", res, tc.wantMsg)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "v1")
	ctx := context.Background()

	res, err := svc.Register(ctx, "ann", "secret1")
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("first register: res=%+v err=%v", res, err)
	}

	res, err = svc.Register(ctx, "ann", "other22")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if res.Status != StatusError || res.Message != msgUsernameTaken {
		t.Fatalf("res=%+v", res)
	}
}

func TestLoginConstantFailureShape(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "v1")
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ann", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	unknown, err := svc.Login(ctx, "ghost", "whatever")
	if err != nil {
		t.Fatalf("Login unknown: %v", err)
	}
	wrongPw, err := svc.Login(ctx, "ann", "wrong")
	if err != nil {
		t.Fatalf("Login wrong pw: %v", err)
	}

	// No distinction may leak between unknown user and wrong password.
	if unknown != wrongPw {
		t.Fatalf("failure shapes differ: %+v vs %+v", unknown, wrongPw)
	}
	if unknown.Status != StatusError || unknown.Message != msgLoginFailed {
		t.Fatalf("unknown=%+v", unknown)
	}
}

func TestLoginMintsToken(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, "v1")
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ann", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.Login(ctx, "ann", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Status != StatusSuccess || res.Username != "ann" {
		t.Fatalf("res=%+v", res)
	}
	if want := AutoLoginToken("ann", "v1"); res.AutoLoginToken != want {
		t.Fatalf("token=%q want=%q", res.AutoLoginToken, want)
	}

	acct, err := store.Get(ctx, "ann")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.AutoLoginToken != res.AutoLoginToken {
		t.Fatal("token not persisted")
	}
}

func TestAutoLoginTokenVersioning(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, "v1")
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ann", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	login, err := svc.Login(ctx, "ann", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	res, err := svc.AutoLogin(ctx, login.AutoLoginToken)
	if err != nil {
		t.Fatalf("AutoLogin: %v", err)
	}
	if res.Status != StatusSuccess || res.Username != "ann" {
		t.Fatalf("res=%+v", res)
	}

	// Rolling the version salt invalidates the stored token with a message
	// distinct from the unknown-token case.
	stale := NewService(svc.log, store, "v2")
	res, err = stale.AutoLogin(ctx, login.AutoLoginToken)
	if err != nil {
		t.Fatalf("AutoLogin stale: %v", err)
	}
	if res.Status != StatusError || res.Message != msgTokenVersionStale {
		t.Fatalf("stale res=%+v", res)
	}

	res, err = stale.AutoLogin(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("AutoLogin unknown: %v", err)
	}
	if res.Status != StatusError || res.Message != msgTokenInvalid {
		t.Fatalf("unknown res=%+v", res)
	}
}

func TestValidCredential(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"abc123", true},
		{"ABC", true},
		{"", false},
		{"with space", false},
		{"héllo", false},
		{"semi;colon", false},
	}

	for _, tc := range cases {
		if got := ValidCredential(tc.in); got != tc.want {
			t.Fatalf("ValidCredential(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("secret1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("secret1", hash) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("wrong password accepted")
	}
}
