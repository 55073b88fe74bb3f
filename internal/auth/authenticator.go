package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Logger defines the logging interface used by the Authenticator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuthenticatorConfig configures the credential-checking worker pool.
type AuthenticatorConfig struct {
	// Workers is the number of concurrent credential checks. Default: 2.
	Workers int

	// QueueSize bounds pending checks; beyond it requests fail fast. Default: 64.
	QueueSize int

	// CacheDirectoryPasswords keeps a local Argon2id hash of directory
	// passwords after a successful bind, so directory users can still log
	// in while the directory is unreachable.
	CacheDirectoryPasswords bool

	// RequestTimeout bounds one credential check. Default: 10s.
	RequestTimeout time.Duration
}

// defaultRequestTimeout bounds a credential check when none is configured.
const defaultRequestTimeout = 10 * time.Second

// Result is the outcome of an asynchronous credential operation.
type Result struct {
	Username string

	// Err is nil on success. Otherwise it wraps ErrInvalidCredentials,
	// ErrUserInactive or ErrDirectoryUnavailable.
	Err error

	// NewHash is set after a successful password change, and after a
	// successful directory login when password caching is enabled.
	NewHash string
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// DirectoryFailure reports whether the failure was the directory being
// unreachable or misconfigured rather than the credentials being wrong.
func (r Result) DirectoryFailure() bool {
	return errors.Is(r.Err, ErrDirectoryUnavailable)
}

// Authenticator validates credentials off the caller's goroutine.
//
// Every request returns a one-shot channel that receives exactly one Result.
// Plaintext passwords passed in are owned by the Authenticator and zeroed
// once consumed; callers that still need them must copy first.
//
// Thread Safety: all methods are safe for concurrent use.
type Authenticator struct {
	cfg       AuthenticatorConfig
	pool      *pool
	directory Directory
	logger    Logger
}

// NewAuthenticator creates an authenticator. directory may be nil, in which
// case only local credentials are accepted.
func NewAuthenticator(cfg AuthenticatorConfig, directory Directory) *Authenticator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Authenticator{
		cfg:       cfg,
		pool:      newPool(cfg.Workers, cfg.QueueSize),
		directory: directory,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the authenticator.
func (a *Authenticator) SetLogger(logger Logger) {
	a.logger = logger
}

// Start launches the worker pool.
func (a *Authenticator) Start(ctx context.Context) {
	a.pool.start(ctx)
}

// Stop stops accepting work and waits up to timeout for in-flight checks.
func (a *Authenticator) Stop(timeout time.Duration) error {
	return a.pool.stop(timeout)
}

// Authenticate checks password against the user's credentials.
func (a *Authenticator) Authenticate(creds Credentials, password []byte) <-chan Result {
	return a.submit(creds.Username, func(ctx context.Context) Result {
		defer Zero(password)
		return a.login(ctx, creds, password)
	}, password)
}

// ChangePassword re-validates oldPassword and, if correct, produces the new hash.
func (a *Authenticator) ChangePassword(creds Credentials, oldPassword, newPassword []byte) <-chan Result {
	return a.submit(creds.Username, func(ctx context.Context) Result {
		defer Zero(oldPassword)
		defer Zero(newPassword)
		return a.changePassword(ctx, creds, oldPassword, newPassword)
	}, oldPassword, newPassword)
}

// submit runs fn on the pool and delivers exactly one Result on a buffered
// channel. If the pool rejects the job, or shuts down before running it, the
// secrets are zeroed and a directory-class failure is delivered instead.
func (a *Authenticator) submit(username string, fn func(context.Context) Result, secrets ...[]byte) <-chan Result {
	out := make(chan Result, 1)

	err := a.pool.submit(func(ctx context.Context) {
		if err := ctx.Err(); err != nil {
			for _, s := range secrets {
				Zero(s)
			}
			out <- Result{Username: username, Err: fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)}
			return
		}
		ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()

		res := fn(ctx)
		res.Username = username
		out <- res
	})
	if err != nil {
		for _, s := range secrets {
			Zero(s)
		}
		a.logger.Warn("credential check rejected", "username", username, "error", err)
		out <- Result{Username: username, Err: fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)}
	}
	return out
}

func (a *Authenticator) login(ctx context.Context, creds Credentials, password []byte) Result {
	var res Result
	if creds.Source == SourceDirectory {
		res = a.verifyDirectory(ctx, creds, password)
	} else {
		res = Result{Err: verifyLocal(creds, password)}
	}
	if res.OK() && !creds.IsActive {
		return Result{Err: ErrUserInactive}
	}
	return res
}

// verifyDirectory asks the directory; when it is unreachable and a cached
// hash exists, the cached hash decides.
func (a *Authenticator) verifyDirectory(ctx context.Context, creds Credentials, password []byte) Result {
	if a.directory == nil {
		return Result{Err: fmt.Errorf("%w: no directory configured", ErrDirectoryUnavailable)}
	}

	// The directory call may need the plaintext after the cache hash is
	// computed, so hash from a private copy.
	var cacheCopy []byte
	if a.cfg.CacheDirectoryPasswords {
		cacheCopy = slices.Clone(password)
		defer Zero(cacheCopy)
	}

	err := a.directory.Verify(ctx, creds.Username, password)
	switch {
	case err == nil:
		res := Result{}
		if cacheCopy != nil {
			hash, hashErr := HashPassword(cacheCopy)
			if hashErr != nil {
				a.logger.Warn("caching directory password failed", "username", creds.Username, "error", hashErr)
			} else {
				res.NewHash = hash
			}
		}
		return res
	case errors.Is(err, ErrDirectoryUnavailable) && a.cfg.CacheDirectoryPasswords && creds.PasswordHash != "":
		a.logger.Warn("directory unavailable, using cached password", "username", creds.Username, "error", err)
		return Result{Err: verifyLocal(creds, cacheCopy)}
	default:
		return Result{Err: err}
	}
}

func (a *Authenticator) changePassword(ctx context.Context, creds Credentials, oldPassword, newPassword []byte) Result {
	if len(newPassword) == 0 {
		return Result{Err: fmt.Errorf("%w: new password is empty", ErrInvalidCredentials)}
	}

	if creds.Source == SourceDirectory {
		if a.directory == nil {
			return Result{Err: fmt.Errorf("%w: no directory configured", ErrDirectoryUnavailable)}
		}
		var newCopy []byte
		if a.cfg.CacheDirectoryPasswords {
			newCopy = slices.Clone(newPassword)
			defer Zero(newCopy)
		}
		if err := a.directory.ChangePassword(ctx, creds.Username, oldPassword, newPassword); err != nil {
			return Result{Err: err}
		}
		if newCopy == nil {
			return Result{}
		}
		hash, err := HashPassword(newCopy)
		if err != nil {
			a.logger.Warn("caching directory password failed", "username", creds.Username, "error", err)
			return Result{}
		}
		return Result{NewHash: hash}
	}

	if err := verifyLocal(creds, oldPassword); err != nil {
		return Result{Err: err}
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return Result{Err: fmt.Errorf("hashing new password: %w", err)}
	}
	return Result{NewHash: hash}
}

// verifyLocal checks password against the stored Argon2id hash.
func verifyLocal(creds Credentials, password []byte) error {
	if creds.PasswordHash == "" || len(password) == 0 {
		return ErrInvalidCredentials
	}
	ok, err := VerifyPassword(password, creds.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}
