package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	mu        sync.Mutex
	passwords map[string]string
	down      bool
	calls     int

	// block, when set, holds Verify until closed; entered is signalled first.
	block   chan struct{}
	entered chan struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{passwords: make(map[string]string)}
}

func (d *fakeDirectory) Verify(ctx context.Context, username string, password []byte) error {
	d.mu.Lock()
	d.calls++
	block, entered := d.block, d.entered
	d.mu.Unlock()

	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return ErrDirectoryUnavailable
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return ErrDirectoryUnavailable
	}
	if want, ok := d.passwords[username]; !ok || want != string(password) {
		return ErrInvalidCredentials
	}
	return nil
}

func (d *fakeDirectory) ChangePassword(ctx context.Context, username string, oldPassword, newPassword []byte) error {
	if err := d.Verify(ctx, username, oldPassword); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passwords[username] = string(newPassword)
	return nil
}

func startAuthenticator(t *testing.T, cfg AuthenticatorConfig, dir Directory) *Authenticator {
	t.Helper()
	a := NewAuthenticator(cfg, dir)
	a.Start(t.Context())
	t.Cleanup(func() { a.Stop(time.Second) }) //nolint:errcheck // test cleanup
	return a
}

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for authentication result")
		return Result{}
	}
}

func localCredentials(t *testing.T, username, password string) Credentials {
	t.Helper()
	hash, err := HashPassword([]byte(password))
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return Credentials{Username: username, PasswordHash: hash, Source: SourceLocal, IsActive: true}
}

func TestAuthenticator_LocalSuccess(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := localCredentials(t, "alice", "s3cret")

	password := []byte("s3cret")
	res := awaitResult(t, a.Authenticate(creds, password))

	if !res.OK() {
		t.Fatalf("Authenticate() error = %v", res.Err)
	}
	if res.Username != "alice" {
		t.Errorf("Username = %q, want alice", res.Username)
	}
	if res.NewHash != "" {
		t.Error("local login should not produce a new hash")
	}
	for _, b := range password {
		if b != 0 {
			t.Fatal("password buffer should be zeroed once consumed")
		}
	}
}

func TestAuthenticator_LocalWrongPassword(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := localCredentials(t, "alice", "s3cret")

	res := awaitResult(t, a.Authenticate(creds, []byte("wrong")))

	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", res.Err)
	}
	if res.DirectoryFailure() {
		t.Error("wrong password must not be classified as a directory failure")
	}
}

func TestAuthenticator_EmptyHashRejects(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := Credentials{Username: "nohash", Source: SourceLocal, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("anything")))
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", res.Err)
	}
}

func TestAuthenticator_Inactive(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := localCredentials(t, "bob", "pw")
	creds.IsActive = false

	res := awaitResult(t, a.Authenticate(creds, []byte("pw")))
	if !errors.Is(res.Err, ErrUserInactive) {
		t.Errorf("error = %v, want ErrUserInactive", res.Err)
	}
}

func TestAuthenticator_DirectoryNotConfigured(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("pw")))
	if !res.DirectoryFailure() {
		t.Errorf("error = %v, want directory failure", res.Err)
	}
}

func TestAuthenticator_DirectorySuccessCachesHash(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "ldap-pw"
	a := startAuthenticator(t, AuthenticatorConfig{CacheDirectoryPasswords: true}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("ldap-pw")))
	if !res.OK() {
		t.Fatalf("Authenticate() error = %v", res.Err)
	}
	if res.NewHash == "" {
		t.Fatal("directory login with caching should produce a hash")
	}
	ok, err := VerifyPassword([]byte("ldap-pw"), res.NewHash)
	if err != nil || !ok {
		t.Errorf("cached hash should verify the directory password (ok=%v, err=%v)", ok, err)
	}
}

func TestAuthenticator_DirectoryNoCache(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "ldap-pw"
	a := startAuthenticator(t, AuthenticatorConfig{}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("ldap-pw")))
	if !res.OK() {
		t.Fatalf("Authenticate() error = %v", res.Err)
	}
	if res.NewHash != "" {
		t.Error("no hash should be produced when caching is disabled")
	}
}

func TestAuthenticator_DirectoryRejects(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "ldap-pw"
	a := startAuthenticator(t, AuthenticatorConfig{CacheDirectoryPasswords: true}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("nope")))
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", res.Err)
	}
	if res.NewHash != "" {
		t.Error("rejected login must not produce a hash")
	}
}

func TestAuthenticator_DirectoryDownFallsBackToCache(t *testing.T) {
	dir := newFakeDirectory()
	dir.down = true
	a := startAuthenticator(t, AuthenticatorConfig{CacheDirectoryPasswords: true}, dir)

	creds := localCredentials(t, "carol", "ldap-pw")
	creds.Source = SourceDirectory

	res := awaitResult(t, a.Authenticate(creds, []byte("ldap-pw")))
	if !res.OK() {
		t.Fatalf("cached login should succeed while directory is down: %v", res.Err)
	}

	res = awaitResult(t, a.Authenticate(creds, []byte("wrong")))
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", res.Err)
	}
}

func TestAuthenticator_DirectoryDownWithoutCache(t *testing.T) {
	dir := newFakeDirectory()
	dir.down = true
	a := startAuthenticator(t, AuthenticatorConfig{}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.Authenticate(creds, []byte("ldap-pw")))
	if !res.DirectoryFailure() {
		t.Errorf("error = %v, want directory failure", res.Err)
	}
}

func TestAuthenticator_ChangePasswordLocal(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := localCredentials(t, "alice", "old-pw")

	res := awaitResult(t, a.ChangePassword(creds, []byte("wrong"), []byte("new-pw")))
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", res.Err)
	}

	oldPw, newPw := []byte("old-pw"), []byte("new-pw")
	res = awaitResult(t, a.ChangePassword(creds, oldPw, newPw))
	if !res.OK() {
		t.Fatalf("ChangePassword() error = %v", res.Err)
	}
	ok, err := VerifyPassword([]byte("new-pw"), res.NewHash)
	if err != nil || !ok {
		t.Errorf("new hash should verify the new password (ok=%v, err=%v)", ok, err)
	}
	for _, b := range append(oldPw, newPw...) {
		if b != 0 {
			t.Fatal("password buffers should be zeroed once consumed")
		}
	}
}

func TestAuthenticator_ChangePasswordEmpty(t *testing.T) {
	a := startAuthenticator(t, AuthenticatorConfig{}, nil)
	creds := localCredentials(t, "alice", "old-pw")

	res := awaitResult(t, a.ChangePassword(creds, []byte("old-pw"), nil))
	if !errors.Is(res.Err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", res.Err)
	}
}

func TestAuthenticator_ChangePasswordDirectory(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "old"
	a := startAuthenticator(t, AuthenticatorConfig{CacheDirectoryPasswords: true}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	res := awaitResult(t, a.ChangePassword(creds, []byte("old"), []byte("new")))
	if !res.OK() {
		t.Fatalf("ChangePassword() error = %v", res.Err)
	}
	if dir.passwords["carol"] != "new" {
		t.Error("directory should hold the new password")
	}
	ok, _ := VerifyPassword([]byte("new"), res.NewHash)
	if !ok {
		t.Error("cached hash should match the new directory password")
	}
}

func TestAuthenticator_NotStarted(t *testing.T) {
	a := NewAuthenticator(AuthenticatorConfig{}, nil)
	password := []byte("pw")

	res := awaitResult(t, a.Authenticate(Credentials{Username: "alice"}, password))
	if !errors.Is(res.Err, ErrPoolNotStarted) || !res.DirectoryFailure() {
		t.Errorf("error = %v, want directory failure wrapping ErrPoolNotStarted", res.Err)
	}
	if password[0] != 0 {
		t.Error("rejected request should still zero the password")
	}
}

// Resilience tests verify that the authenticator handles overload and
// shutdown gracefully. They use the TestResilience_ prefix for filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

func TestResilience_QueueFull(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "pw"
	dir.block = make(chan struct{})
	dir.entered = make(chan struct{}, 4)
	a := startAuthenticator(t, AuthenticatorConfig{Workers: 1, QueueSize: 1}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	first := a.Authenticate(creds, []byte("pw"))
	<-dir.entered // worker is now busy

	second := a.Authenticate(creds, []byte("pw")) // fills the queue
	third := a.Authenticate(creds, []byte("pw"))  // rejected

	res := awaitResult(t, third)
	if !errors.Is(res.Err, ErrQueueFull) || !res.DirectoryFailure() {
		t.Errorf("third request error = %v, want directory failure wrapping ErrQueueFull", res.Err)
	}

	close(dir.block)
	if res := awaitResult(t, first); !res.OK() {
		t.Errorf("first request error = %v", res.Err)
	}
	if res := awaitResult(t, second); !res.OK() {
		t.Errorf("second request error = %v", res.Err)
	}
}

func TestResilience_StopTimeout(t *testing.T) {
	dir := newFakeDirectory()
	dir.block = make(chan struct{})
	dir.entered = make(chan struct{}, 1)
	a := NewAuthenticator(AuthenticatorConfig{Workers: 1}, dir)
	a.Start(context.Background())

	a.Authenticate(Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}, []byte("pw"))
	<-dir.entered

	if err := a.Stop(10 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Stop() error = %v, want ErrStopTimeout", err)
	}
	close(dir.block)

	res := awaitResult(t, a.Authenticate(Credentials{Username: "carol"}, []byte("pw")))
	if !errors.Is(res.Err, ErrPoolStopped) {
		t.Errorf("after Stop, error = %v, want ErrPoolStopped", res.Err)
	}
}

func TestResilience_ConcurrentRequestsEachGetOneResult(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "pw"
	a := startAuthenticator(t, AuthenticatorConfig{Workers: 4, QueueSize: 128}, dir)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pw := []byte("pw")
			if i%2 == 1 {
				pw = []byte("bad")
			}
			res := <-a.Authenticate(creds, pw)
			if i%2 == 0 && !res.OK() {
				errs <- res.Err
			}
			if i%2 == 1 && !errors.Is(res.Err, ErrInvalidCredentials) {
				errs <- errors.New("bad password accepted")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if dir.calls != n {
		t.Errorf("directory calls = %d, want %d", dir.calls, n)
	}
}

func TestResilience_CancelDeliversQueuedResults(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["carol"] = "pw"
	dir.block = make(chan struct{})
	dir.entered = make(chan struct{}, 1)
	a := NewAuthenticator(AuthenticatorConfig{Workers: 1, QueueSize: 4}, dir)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	creds := Credentials{Username: "carol", Source: SourceDirectory, IsActive: true}

	running := a.Authenticate(creds, []byte("pw"))
	<-dir.entered

	queued := make([][]byte, 3)
	results := make([]<-chan Result, len(queued))
	for i := range queued {
		queued[i] = []byte("pw")
		results[i] = a.Authenticate(creds, queued[i])
	}

	cancel()

	if res := awaitResult(t, running); !res.DirectoryFailure() {
		t.Errorf("in-flight request error = %v, want directory failure", res.Err)
	}
	for i, ch := range results {
		res := awaitResult(t, ch)
		if !res.DirectoryFailure() || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("queued request %d error = %v, want directory failure wrapping context.Canceled", i, res.Err)
		}
		if res.Username != "carol" {
			t.Errorf("queued request %d username = %q", i, res.Username)
		}
		if queued[i][0] != 0 {
			t.Errorf("queued request %d password was not zeroed", i)
		}
	}

	if err := a.Stop(time.Second); err != nil {
		t.Errorf("Stop() after cancel error = %v", err)
	}
	res := awaitResult(t, a.Authenticate(creds, []byte("pw")))
	if !errors.Is(res.Err, ErrPoolStopped) {
		t.Errorf("after cancel, error = %v, want ErrPoolStopped", res.Err)
	}
}
