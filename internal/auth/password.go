package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argon2idParams are the cost parameters of one hash.
type argon2idParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// defaultParams follow the OWASP Argon2id baseline.
var defaultParams = argon2idParams{memory: 64 * 1024, time: 3, threads: 1}

const (
	saltLen = 16
	keyLen  = 32

	// maxMemory bounds the cost a stored hash can ask Verify to pay.
	maxMemory = 1 << 20
)

var errMalformedHash = errors.New("malformed argon2id hash")

// phcHash is a decoded $argon2id$v=19$m=...,t=...,p=...$salt$key string.
type phcHash struct {
	params argon2idParams
	salt   []byte
	key    []byte
}

func (h phcHash) String() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.memory, h.params.time, h.params.threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// HashPassword derives an Argon2id hash of password and encodes it in PHC
// form. The caller still owns password and should Zero it afterwards.
func HashPassword(password []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	p := defaultParams
	h := phcHash{
		params: p,
		salt:   salt,
		key:    argon2.IDKey(password, salt, p.time, p.memory, p.threads, keyLen),
	}
	return h.String(), nil
}

// VerifyPassword reports whether password matches the PHC-encoded hash.
// A malformed hash is an error, not a mismatch.
func VerifyPassword(password []byte, encoded string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	p := h.params
	candidate := argon2.IDKey(password, h.salt, p.time, p.memory, p.threads, uint32(len(h.key))) //nolint:gosec // key length is small
	return subtle.ConstantTimeCompare(h.key, candidate) == 1, nil
}

// decoyHash hashes a random password nobody knows. It is computed once.
var decoyHash = sync.OnceValue(func() string {
	h, err := HashPassword([]byte(rand.Text()))
	if err != nil {
		return ""
	}
	return h
})

// DecoyCredentials are verified in place of an unknown user's so the
// rejection costs the same Argon2id work as a wrong password. No password
// is expected to match them.
func DecoyCredentials(username string) Credentials {
	return Credentials{Username: username, PasswordHash: decoyHash(), Source: SourceLocal, IsActive: true}
}

// Zero overwrites a plaintext secret in place once it has been consumed.
func Zero(secret []byte) {
	clear(secret)
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return h, errMalformedHash
	}
	if fields[1] != "argon2id" {
		return h, fmt.Errorf("unsupported password hash algorithm %q", fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return h, fmt.Errorf("%w: version %q", errMalformedHash, fields[2])
	}

	for kv := range strings.SplitSeq(fields[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return h, fmt.Errorf("%w: parameter %q", errMalformedHash, kv)
		}
		var bits int
		var dst func(uint64)
		switch k {
		case "m":
			bits, dst = 32, func(n uint64) { h.params.memory = uint32(n) }
		case "t":
			bits, dst = 32, func(n uint64) { h.params.time = uint32(n) }
		case "p":
			bits, dst = 8, func(n uint64) { h.params.threads = uint8(n) }
		default:
			return h, fmt.Errorf("%w: parameter %q", errMalformedHash, k)
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return h, fmt.Errorf("%w: parameter %s: %w", errMalformedHash, k, err)
		}
		dst(n)
	}
	if h.params.memory == 0 || h.params.time == 0 || h.params.threads == 0 || h.params.memory > maxMemory {
		return h, fmt.Errorf("%w: cost parameters out of range", errMalformedHash)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", errMalformedHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return h, fmt.Errorf("%w: key: %w", errMalformedHash, err)
	}
	if len(h.key) == 0 {
		return h, fmt.Errorf("%w: empty key", errMalformedHash)
	}
	return h, nil
}
