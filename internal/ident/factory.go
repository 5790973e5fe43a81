// Package ident derives content-based expense identifiers.
//
// An identifier is the MD5 fingerprint of the expense's defining fields joined
// with "|". Callers include a high-resolution creation timestamp so identical
// business data submitted twice still gets distinct ids. On the rare collision
// with an id already in the ledger, a "-" and five random alphanumerics are
// appended to the fingerprint until the candidate is unique.
package ident

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"budgetapp/internal/core"
)

const (
	fieldDelimiter = "|"
	suffixLength   = 5
	alphabet       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultMaxAttempts bounds the collision loop. With 62^5 suffixes the
	// bound is never reached unless the random source is broken.
	DefaultMaxAttempts = 1_000_000
)

// TimestampLayout renders creation times with microsecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Source supplies randomness for collision suffixes.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Factory creates identifiers. The zero value is not usable; use New.
type Factory struct {
	rand        Source
	maxAttempts int
}

// Option configures a Factory.
type Option func(*Factory)

// WithSource injects the randomness used for collision suffixes.
func WithSource(src Source) Option {
	return func(f *Factory) {
		if src != nil {
			f.rand = src
		}
	}
}

// WithMaxAttempts overrides the collision retry bound.
func WithMaxAttempts(n int) Option {
	return func(f *Factory) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// New returns a Factory backed by math/rand/v2 unless overridden.
func New(opts ...Option) *Factory {
	f := &Factory{rand: globalSource{}, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fingerprint joins the string form of each field with "|" and returns the
// hex MD5 digest of the result.
func Fingerprint(fields []any) string {
	parts := make([]string, len(fields))
	for i, v := range fields {
		parts[i] = fieldString(v)
	}
	sum := md5.Sum([]byte(strings.Join(parts, fieldDelimiter)))
	return hex.EncodeToString(sum[:])
}

// CreateID returns the fingerprint of fields, suffixed if needed so that it
// does not collide with any id in existing. existing is only read.
func (f *Factory) CreateID(fields []any, existing core.Ledger) (string, error) {
	base := Fingerprint(fields)
	candidate := base
	for attempt := 0; existing.Contains(candidate); attempt++ {
		if attempt >= f.maxAttempts {
			return "", fmt.Errorf("%w after %d attempts", core.ErrIDSpaceExhausted, attempt)
		}
		candidate = base + "-" + f.suffix()
	}
	return candidate, nil
}

// ExpenseFields returns the ordered fingerprint inputs for a new expense.
func ExpenseFields(in core.ExpenseInput, createdAt time.Time) []any {
	return []any{in.Amount, in.Description, in.Date, createdAt}
}

// AssignMissing gives an id to every expense that lacks one, fingerprinting
// amount, date and description. The input is not modified.
func (f *Factory) AssignMissing(ledger core.Ledger) (core.Ledger, int, error) {
	out := ledger.Clone()
	assigned := 0
	for i := range out {
		if out[i].ID != "" && out[i].ID != "0" {
			continue
		}
		id, err := f.CreateID([]any{out[i].Amount, out[i].Date, out[i].Description}, out)
		if err != nil {
			return nil, assigned, err
		}
		out[i].ID = id
		assigned++
	}
	return out, assigned, nil
}

func (f *Factory) suffix() string {
	var b strings.Builder
	b.Grow(suffixLength)
	for i := 0; i < suffixLength; i++ {
		b.WriteByte(alphabet[f.rand.IntN(len(alphabet))])
	}
	return b.String()
}

func fieldString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(TimestampLayout)
	default:
		return fmt.Sprint(val)
	}
}
