package password

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// MinLength is the minimum accepted password length.
const MinLength = 8

// Hasher hashes and verifies account passwords with bcrypt. It has no
// knowledge of tokens; plaintext never leaves this package.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given work factor, clamped to the
// range bcrypt supports.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the salted one-way hash of the password.
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether the password matches the stored hash.
func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Validate checks the password against the minimum strength policy and
// returns one reason per violated rule.
func Validate(password string) []string {
	var reasons []string
	if len(password) < MinLength {
		reasons = append(reasons, "must be at least 8 characters")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		reasons = append(reasons, "must contain at least one letter")
	}
	if !hasDigit {
		reasons = append(reasons, "must contain at least one digit")
	}

	return reasons
}
