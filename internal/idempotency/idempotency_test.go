package idempotency

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var keyCharset = regexp.MustCompile(`^[a-z0-9:-]+$`)

func TestAccountKey_CaseInsensitive(t *testing.T) {
	assert.Equal(t, AccountKey("a@b.com"), AccountKey("A@B.com"))
	assert.Equal(t, AccountKey("a@b.com"), AccountKey("  a@B.COM "))
	assert.NotEqual(t, AccountKey("a@b.com"), AccountKey("c@b.com"))
	assert.True(t, strings.HasPrefix(AccountKey("a@b.com"), AccountPrefix))
}

func TestAccountKey_Shape(t *testing.T) {
	k := AccountKey("someone@example.com")
	assert.LessOrEqual(t, len(k), 255)
	assert.Regexp(t, keyCharset, k)
	assert.Len(t, k, len(AccountPrefix)+64)
}

func TestDeriver_TimeSaltedKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := New(WithClock(func() time.Time { return now }))

	pi1 := d.PaymentIntentKey("acct_1", 1000, "sim_1")
	pi2 := d.PaymentIntentKey("acct_1", 1000, "sim_1")
	assert.Equal(t, pi1, pi2, "same inputs within the same second give the same key")
	assert.True(t, strings.HasPrefix(pi1, PaymentIntentPrefix))
	assert.Regexp(t, keyCharset, pi1)

	assert.NotEqual(t, pi1, d.PaymentIntentKey("acct_1", 1001, "sim_1"))
	assert.NotEqual(t, pi1, d.PaymentIntentKey("acct_2", 1000, "sim_1"))
	assert.NotEqual(t, pi1, d.PaymentIntentKey("acct_1", 1000, "sim_2"))

	tr1 := d.TransferKey("ch_1", "acct_1", 1000)
	assert.True(t, strings.HasPrefix(tr1, TransferPrefix))
	assert.Equal(t, tr1, d.TransferKey("ch_1", "acct_1", 1000))
	assert.NotEqual(t, tr1, d.TransferKey("ch_2", "acct_1", 1000))

	now = now.Add(time.Second)
	assert.NotEqual(t, pi1, d.PaymentIntentKey("acct_1", 1000, "sim_1"), "a later second yields a fresh key")
	assert.NotEqual(t, tr1, d.TransferKey("ch_1", "acct_1", 1000))
}

func TestDeriver_AccountKeyIgnoresClock(t *testing.T) {
	a := New(WithClock(func() time.Time { return time.Unix(1, 0) }))
	b := New(WithClock(func() time.Time { return time.Unix(2, 0) }))
	assert.Equal(t, a.AccountKey("x@y.com"), b.AccountKey("X@Y.com"))
}

func TestAccountKey_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("case and surrounding space do not change the key", prop.ForAll(
		func(local, domain string) bool {
			email := local + "@" + domain + ".com"
			return AccountKey(email) == AccountKey("  "+strings.ToUpper(email)+"\t")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("distinct normalized emails give distinct keys", prop.ForAll(
		func(a, b string) bool {
			ea, eb := a+"@x.io", b+"@x.io"
			if NormalizeEmail(ea) == NormalizeEmail(eb) {
				return AccountKey(ea) == AccountKey(eb)
			}
			return AccountKey(ea) != AccountKey(eb)
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("keys fit the provider charset and length", prop.ForAll(
		func(email string) bool {
			k := AccountKey(email)
			return len(k) <= 255 && keyCharset.MatchString(k)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
