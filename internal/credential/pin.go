// Package credential issues reservation PINs and stores them as one-way
// bcrypt digests.
package credential

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PINLength is the length of generated PINs.
	PINLength = 4

	minCallerPIN = 4
	maxCallerPIN = 8
)

// ErrInvalidPIN is returned by ValidatePIN.
var ErrInvalidPIN = errors.New("pin must be 4 to 8 digits")

var ten = big.NewInt(10)

// Generator hashes PINs at a fixed bcrypt cost.
type Generator struct {
	cost int
}

// NewGenerator clamps cost into bcrypt's accepted range.
func NewGenerator(cost int) *Generator {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Generator{cost: cost}
}

// GeneratePIN returns PINLength decimal digits, each drawn uniformly from
// crypto/rand. PINs are not unique across reservations.
func (g *Generator) GeneratePIN() (string, error) {
	buf := make([]byte, PINLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("pin entropy: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// Hash returns a salted bcrypt digest of plain.
func (g *Generator) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), g.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plain matches digest.
func (g *Generator) Verify(plain, digest string) bool {
	return Verify(plain, digest)
}

// Verify is usable without a Generator; the cost is encoded in the digest.
func Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// ValidatePIN checks a caller-supplied PIN.
func ValidatePIN(pin string) error {
	if len(pin) < minCallerPIN || len(pin) > maxCallerPIN {
		return ErrInvalidPIN
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}
