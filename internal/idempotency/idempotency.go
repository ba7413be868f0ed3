// Package idempotency derives the keys attached to side-effecting provider
// calls.
//
// Account creation keys depend only on the normalized email, so concurrent
// signups for the same address collapse into one remote account. Simulation
// and transfer keys are salted with the current second: they only stop a
// double submit inside the same instant and give no dedup across retries.
package idempotency

import (
	"fmt"
	"strings"
	"time"

	"github.com/split-connect/split-backend/pkg/checksum"
)

// Key prefixes. The provider caps keys at 255 characters; prefix plus a hex
// SHA-256 stays well below that.
const (
	AccountPrefix       = "acct-create:"
	PaymentIntentPrefix = "pi-sim:"
	TransferPrefix      = "tr-sim:"
)

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountKey returns the account creation key for email.
func AccountKey(email string) string {
	return AccountPrefix + digest(map[string]any{"email": NormalizeEmail(email)})
}

// Deriver builds time-salted keys from an injectable clock.
type Deriver struct {
	now func() time.Time
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deriver) { d.now = now }
}

// New returns a Deriver using the wall clock unless overridden.
func New(opts ...Option) *Deriver {
	d := &Deriver{now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AccountKey is a convenience wrapper around the package-level AccountKey.
func (d *Deriver) AccountKey(email string) string {
	return AccountKey(email)
}

// PaymentIntentKey keys the simulated payment intent.
func (d *Deriver) PaymentIntentKey(accountID string, amount int64, orderRef string) string {
	return PaymentIntentPrefix + digest(map[string]any{
		"account":   accountID,
		"amount":    amount,
		"order_ref": orderRef,
		"ts":        d.now().Unix(),
	})
}

// TransferKey keys the transfer funded by chargeID.
func (d *Deriver) TransferKey(chargeID, accountID string, amount int64) string {
	return TransferPrefix + digest(map[string]any{
		"charge":  chargeID,
		"account": accountID,
		"amount":  amount,
		"ts":      d.now().Unix(),
	})
}

// digest hashes the canonical form of v. The inputs here are plain strings
// and integers, so canonicalization cannot fail; the fallback keeps the key
// deterministic regardless.
func digest(v map[string]any) string {
	sum, err := checksum.CanonicalSHA256(v)
	if err != nil {
		return checksum.SHA256Hex([]byte(fmt.Sprint(v)))
	}
	return sum
}
