package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// defaultDirectoryTimeout bounds a single directory round trip.
const defaultDirectoryTimeout = 5 * time.Second

// Directory validates credentials against an external account directory.
//
// Implementations return nil on success, an error wrapping
// ErrInvalidCredentials when the directory rejected the credentials, and an
// error wrapping ErrDirectoryUnavailable when it could not be asked.
type Directory interface {
	Verify(ctx context.Context, username string, password []byte) error
	ChangePassword(ctx context.Context, username string, oldPassword, newPassword []byte) error
}

// LDAPConfig configures an LDAPDirectory.
type LDAPConfig struct {
	// URL of the directory, e.g. "ldaps://ldap.example.com:636".
	URL string

	// BindDNTemplate produces a user's DN; "%s" is replaced with the
	// escaped username, e.g. "uid=%s,ou=people,dc=example,dc=com".
	BindDNTemplate string

	// Timeout bounds dial and each request. Default: 5s.
	Timeout time.Duration
}

// LDAPDirectory validates users with an LDAP simple bind.
type LDAPDirectory struct {
	cfg LDAPConfig
}

// NewLDAPDirectory creates a directory client. No connection is opened until
// the first Verify call; each call uses its own short-lived connection.
func NewLDAPDirectory(cfg LDAPConfig) (*LDAPDirectory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrDirectoryUnavailable)
	}
	if !strings.Contains(cfg.BindDNTemplate, "%s") {
		return nil, fmt.Errorf("%w: bind_dn_template must contain %%s", ErrDirectoryUnavailable)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDirectoryTimeout
	}
	return &LDAPDirectory{cfg: cfg}, nil
}

// Verify binds as the user to check the password.
func (d *LDAPDirectory) Verify(ctx context.Context, username string, password []byte) error {
	conn, err := d.bind(ctx, username, password)
	if err != nil {
		return err
	}
	conn.Close() //nolint:errcheck // best-effort close after successful bind
	return nil
}

// ChangePassword binds as the user and issues a password modify extended operation.
func (d *LDAPDirectory) ChangePassword(ctx context.Context, username string, oldPassword, newPassword []byte) error {
	conn, err := d.bind(ctx, username, oldPassword)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // best-effort close

	req := ldap.NewPasswordModifyRequest(d.userDN(username), string(oldPassword), string(newPassword))
	if _, err := conn.PasswordModify(req); err != nil {
		return classifyLDAPError(err)
	}
	return nil
}

// bind dials the directory and authenticates as the user.
func (d *LDAPDirectory) bind(ctx context.Context, username string, password []byte) (*ldap.Conn, error) {
	// An empty password would be an unauthenticated bind, which most
	// servers accept. Treat it as a rejection.
	if len(password) == 0 {
		return nil, ErrInvalidCredentials
	}

	dialer := &net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := ldap.DialURL(d.cfg.URL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrDirectoryUnavailable, err)
	}
	conn.SetTimeout(d.cfg.Timeout)

	if err := ctx.Err(); err != nil {
		conn.Close() //nolint:errcheck // best-effort close on cancellation
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	if err := conn.Bind(d.userDN(username), string(password)); err != nil {
		conn.Close() //nolint:errcheck // best-effort close after failed bind
		return nil, classifyLDAPError(err)
	}
	return conn, nil
}

func (d *LDAPDirectory) userDN(username string) string {
	return fmt.Sprintf(d.cfg.BindDNTemplate, ldap.EscapeDN(username))
}

// classifyLDAPError separates rejected credentials from directory faults.
func classifyLDAPError(err error) error {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultInsufficientAccessRights {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
}
