package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes and verifies passwords in PHC format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
type PasswordHasher struct {
	Params    Argon2idParams
	MinLength int
	MaxLength int
}

// DefaultPasswordHasher returns interactive-login defaults.
func DefaultPasswordHasher() PasswordHasher {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return PasswordHasher{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 8,
		MaxLength: 256,
	}
}

// PasswordHasherFromEnv applies overrides:
//   - CHIRP_PASSWORD_MIN_LEN
//   - CHIRP_ARGON2_MEMORY_KIB
//   - CHIRP_ARGON2_ITERATIONS
func PasswordHasherFromEnv() (PasswordHasher, error) {
	h := DefaultPasswordHasher()

	if v, ok := lookupUint("CHIRP_PASSWORD_MIN_LEN"); ok {
		if v < 8 || v > 128 {
			return PasswordHasher{}, fmt.Errorf("CHIRP_PASSWORD_MIN_LEN: out of range [8..128]")
		}
		h.MinLength = int(v)
	}
	if v, ok := lookupUint("CHIRP_ARGON2_MEMORY_KIB"); ok {
		if v < 8*1024 || v > 1024*1024 {
			return PasswordHasher{}, fmt.Errorf("CHIRP_ARGON2_MEMORY_KIB: out of range")
		}
		h.Params.MemoryKiB = uint32(v)
	}
	if v, ok := lookupUint("CHIRP_ARGON2_ITERATIONS"); ok {
		if v < 1 || v > 20 {
			return PasswordHasher{}, fmt.Errorf("CHIRP_ARGON2_ITERATIONS: out of range [1..20]")
		}
		h.Params.Iterations = uint32(v)
	}
	return h, nil
}

func lookupUint(key string) (uint64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, true
	}
	return v, true
}

// Hash validates policy and returns the encoded hash.
func (h PasswordHasher) Hash(password string) (string, error) {
	n := utf8.RuneCountInString(password)
	if n < h.MinLength || n > h.MaxLength {
		return "", ErrPasswordTooWeak
	}

	salt := make([]byte, h.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.Params.Iterations, h.Params.MemoryKiB, h.Params.Parallelism, h.Params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.Params.MemoryKiB,
		h.Params.Iterations,
		h.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify returns (true, nil) on match, (false, nil) on mismatch and
// ErrInvalidHash for malformed hashes or hashes whose cost is far above ours.
func (h PasswordHasher) Verify(encoded, password string) (bool, error) {
	p, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	if p.MemoryKiB > h.Params.MemoryKiB*2 || p.Iterations > h.Params.Iterations*2 || p.Parallelism > h.Params.Parallelism*2 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(expected))) // #nosec G115 -- bounded by decode.
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par), // #nosec G115 -- checked above.
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, nil
}
