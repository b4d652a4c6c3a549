package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the default bcrypt cost
	DefaultCost = bcrypt.DefaultCost

	bcryptPrefix = "{bcrypt}"
	noopPrefix   = "{noop}"
)

// Bcrypt hashes passwords with bcrypt. Hashes carry a {bcrypt} prefix so they
// can live next to other encodings.
type Bcrypt struct {
	Cost int
}

func NewBcrypt(cost int) Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return Bcrypt{Cost: cost}
}

// Encode hashes a password using bcrypt
func (b Bcrypt) Encode(raw string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(raw), b.Cost)
	if err != nil {
		return "", err
	}
	return bcryptPrefix + string(bytes), nil
}

// Matches compares a password with a hash
func (b Bcrypt) Matches(raw, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(strings.TrimPrefix(hash, bcryptPrefix)), []byte(raw))
	return err == nil
}

// Noop stores passwords as plain text. Only meant for demo data and tests.
type Noop struct{}

func (Noop) Encode(raw string) (string, error) { return noopPrefix + raw, nil }

func (Noop) Matches(raw, hash string) bool {
	return strings.TrimPrefix(hash, noopPrefix) == raw
}

// Delegating encodes new passwords with bcrypt and verifies stored hashes
// according to their prefix.
type Delegating struct {
	Bcrypt Bcrypt
}

func NewDelegating(cost int) Delegating {
	return Delegating{Bcrypt: NewBcrypt(cost)}
}

func (d Delegating) Encode(raw string) (string, error) {
	return d.Bcrypt.Encode(raw)
}

func (d Delegating) Matches(raw, hash string) bool {
	switch {
	case strings.HasPrefix(hash, noopPrefix):
		return Noop{}.Matches(raw, hash)
	case strings.HasPrefix(hash, bcryptPrefix):
		return d.Bcrypt.Matches(raw, hash)
	default:
		// Unprefixed hashes are unknown; never match them.
		return false
	}
}
