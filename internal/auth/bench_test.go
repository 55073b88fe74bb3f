package auth

import (
	"testing"
	"time"
)

// Argon2id is slow on purpose; these track the login worker's cost.

func BenchmarkHashPassword(b *testing.B) {
	password := []byte("correct-horse-battery-staple")
	for b.Loop() {
		HashPassword(password) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	password := []byte("correct-horse-battery-staple")
	hash, err := HashPassword(password)
	if err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		VerifyPassword(password, hash) //nolint:errcheck // benchmark
	}
}

// Permission checks run once per object on every fan-out.
func BenchmarkHasPermission(b *testing.B) {
	for b.Loop() {
		HasPermission(RoleUser, TypeUser, VerbRead)
	}
}

// API requests parse a token each time.
func BenchmarkParseSessionToken(b *testing.B) {
	const secret = "benchmark-secret-key-32-bytes-xx"
	token, err := GenerateSessionToken(&User{Username: "bench", Role: RoleAdmin}, "s-bench", secret, time.Minute)
	if err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		ParseSessionToken(token, secret) //nolint:errcheck // benchmark
	}
}
