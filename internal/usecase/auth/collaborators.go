package auth

import (
	"context"
)

// PasswordHasher hides the hashing scheme from call sites.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify returns false, nil on a mismatch and an error only for unusable digests.
	Verify(plaintext, digest string) (bool, error)
}

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
	Link    string
}

// Mailer delivers outbound email. Delivery is fire-and-forget from the service's
// point of view.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// IssueLimiter caps how often one-time tokens are issued per key.
type IssueLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
