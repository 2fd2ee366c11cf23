// Package password provides the password hashers used by the auth service.
package password

import (
	"fmt"
	"strings"

	usecase "quizportal/backend/internal/usecase/auth"
)

// Algorithm names accepted by New.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Hasher hashes with one algorithm and verifies digests of either algorithm, so
// switching PASSWORD_HASHER does not invalidate stored passwords.
type Hasher struct {
	primary usecase.PasswordHasher
	bcrypt  *Bcrypt
	argon2  *Argon2
}

var _ usecase.PasswordHasher = (*Hasher)(nil)

// New returns a Hasher that creates new digests with algorithm.
func New(algorithm string, bcryptCost int) (*Hasher, error) {
	argon, err := NewArgon2(DefaultArgon2Params())
	if err != nil {
		return nil, err
	}
	h := &Hasher{bcrypt: NewBcrypt(bcryptCost), argon2: argon}

	switch strings.ToLower(algorithm) {
	case AlgorithmBcrypt, "":
		h.primary = h.bcrypt
	case AlgorithmArgon2id:
		h.primary = h.argon2
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", algorithm)
	}
	return h, nil
}

func (h *Hasher) Hash(plaintext string) (string, error) {
	return h.primary.Hash(plaintext)
}

func (h *Hasher) Verify(plaintext, digest string) (bool, error) {
	if strings.HasPrefix(digest, argon2Prefix) {
		return h.argon2.Verify(plaintext, digest)
	}
	return h.bcrypt.Verify(plaintext, digest)
}
