package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// Argon2Params tunes argon2id.
type Argon2Params struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP baseline for argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKB: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Argon2 hashes passwords into PHC strings.
type Argon2 struct {
	params Argon2Params
}

// NewArgon2 validates params and returns a hasher.
func NewArgon2(params Argon2Params) (*Argon2, error) {
	switch {
	case params.MemoryKB < 8*1024:
		return nil, errors.New("argon2 memory must be at least 8 MiB")
	case params.Time < 1:
		return nil, errors.New("argon2 time cost must be at least 1")
	case params.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be at least 1")
	case params.SaltLength < 16 || params.KeyLength < 16:
		return nil, errors.New("argon2 salt and key must be at least 16 bytes")
	}
	return &Argon2{params: params}, nil
}

// Hash returns $argon2id$v=19$m=..,t=..,p=..$salt$hash.
func (a *Argon2) Hash(plaintext string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.params.Time, a.params.MemoryKB, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.params.MemoryKB, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in digest.
func (a *Argon2) Verify(plaintext, digest string) (bool, error) {
	p, salt, key, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plaintext), salt, p.Time, p.MemoryKB, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

func parseArgon2(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, errors.New("invalid argon2id digest")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return p, nil, nil, errors.New("unsupported argon2 version")
	}

	for _, kv := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return p, nil, nil, errors.New("invalid argon2 parameters")
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return p, nil, nil, errors.New("invalid argon2 parameters")
		}
		switch name {
		case "m":
			p.MemoryKB = uint32(n)
		case "t":
			p.Time = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, errors.New("invalid argon2 parallelism")
			}
			p.Parallelism = uint8(n)
		default:
			return p, nil, nil, fmt.Errorf("unknown argon2 parameter %q", name)
		}
	}
	if p.MemoryKB == 0 || p.Time == 0 || p.Parallelism == 0 {
		return p, nil, nil, errors.New("missing argon2 parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, errors.New("invalid argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errors.New("invalid argon2 hash")
	}
	return p, salt, key, nil
}
