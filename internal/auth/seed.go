package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
)

// SeedUsername is the account SeedOwner creates.
const SeedUsername = "owner"

// SeedOwner creates an owner account with a random password when the user
// table is empty, logs the password once and returns it. On a populated
// database it does nothing and returns "".
func SeedOwner(ctx context.Context, users UserRepository, logger *slog.Logger) (string, error) {
	n, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		logger.Debug("user table populated, owner seed skipped", "users", n)
		return "", nil
	}

	password := rand.Text()
	secret := []byte(password)
	hash, err := HashPassword(secret)
	Zero(secret)
	if err != nil {
		return "", fmt.Errorf("hashing owner password: %w", err)
	}

	if err := users.Create(ctx, &User{
		Username:     SeedUsername,
		DisplayName:  "System Owner",
		PasswordHash: hash,
		Role:         RoleOwner,
		Source:       SourceLocal,
		IsActive:     true,
	}); err != nil {
		return "", fmt.Errorf("creating %s account: %w", SeedUsername, err)
	}

	logger.Warn("created initial owner account, change its password now",
		"username", SeedUsername,
		"password", password,
	)
	return password, nil
}
