package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Params are the Argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Passes      uint32
	Lanes       uint8
	SaltLength  uint32
	KeyLength   uint32
	MinPassword int
}

// DefaultParams follow the OWASP Argon2id baseline.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   64 * 1024,
		Passes:      3,
		Lanes:       2,
		SaltLength:  16,
		KeyLength:   32,
		MinPassword: 10,
	}
}

func (p Params) validate() error {
	switch {
	case p.MemoryKiB < 8*1024:
		return errors.New("password: memory must be >= 8192 KiB")
	case p.Passes < 1:
		return errors.New("password: passes must be >= 1")
	case p.Lanes < 1:
		return errors.New("password: lanes must be >= 1")
	case p.SaltLength < 16:
		return errors.New("password: salt length must be >= 16")
	case p.KeyLength < 16:
		return errors.New("password: key length must be >= 16")
	case p.MinPassword < 1:
		return errors.New("password: minimum length must be >= 1")
	}
	return nil
}

// Hasher creates Argon2id hashes and verifies every supported scheme.
// It is immutable and safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher validates p and returns a Hasher.
func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash returns a PHC-encoded Argon2id hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) < h.params.MinPassword {
		return "", ErrTooShort
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.params.Passes, h.params.MemoryKiB, h.params.Lanes, h.params.KeyLength)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.MemoryKiB, h.params.Passes, h.params.Lanes,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// Verify reports whether plaintext matches encoded.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	switch scheme(encoded) {
	case schemeArgon2id:
		phc, err := decodePHC(encoded)
		if err != nil {
			return false, err
		}
		key := argon2.IDKey([]byte(plaintext), phc.salt, phc.passes, phc.memoryKiB, phc.lanes, uint32(len(phc.key)))
		return subtle.ConstantTimeCompare(key, phc.key) == 1, nil
	case schemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(encoded), truncate72([]byte(plaintext)))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
	case schemeSHA256:
		return false, ErrUnverifiableHash
	default:
		return false, ErrInvalidHash
	}
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh Hash.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if scheme(encoded) != schemeArgon2id {
		return true
	}
	phc, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return phc.memoryKiB < h.params.MemoryKiB ||
		phc.passes < h.params.Passes ||
		phc.lanes < h.params.Lanes ||
		uint32(len(phc.key)) != h.params.KeyLength
}

// The previous deployment truncated to bcrypt's 72-byte input limit before
// hashing; newer bcrypt builds reject longer input instead.
func truncate72(b []byte) []byte {
	if len(b) > 72 {
		return b[:72]
	}
	return b
}

type hashScheme int

const (
	schemeUnknown hashScheme = iota
	schemeArgon2id
	schemeBcrypt
	schemeSHA256
)

func scheme(encoded string) hashScheme {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return schemeArgon2id
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return schemeBcrypt
	case strings.HasPrefix(encoded, "sha256:") && strings.Count(encoded, ":") == 2:
		return schemeSHA256
	default:
		return schemeUnknown
	}
}

type phcHash struct {
	memoryKiB uint32
	passes    uint32
	lanes     uint8
	salt      []byte
	key       []byte
}

func decodePHC(encoded string) (*phcHash, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return nil, ErrInvalidHash
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported argon2 version %q", ErrInvalidHash, fields[2])
	}

	var phc phcHash
	seen := 0
	for _, kv := range strings.Split(fields[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, kv)
		}
		switch name {
		case "m":
			phc.memoryKiB = uint32(n)
		case "t":
			phc.passes = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, kv)
			}
			phc.lanes = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidHash, name)
		}
		seen++
	}
	if seen != 3 || phc.memoryKiB == 0 || phc.passes == 0 || phc.lanes == 0 {
		return nil, ErrInvalidHash
	}

	var err error
	if phc.salt, err = decodeB64(fields[4]); err != nil || len(phc.salt) < 8 {
		return nil, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}
	if phc.key, err = decodeB64(fields[5]); err != nil || len(phc.key) < 16 {
		return nil, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}
	return &phc, nil
}

// decodeB64 accepts both the unpadded PHC alphabet and padded base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
