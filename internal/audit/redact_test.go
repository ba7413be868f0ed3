package audit_test

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/split-connect/split-backend/internal/audit"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// ---------------------------------------------------------------------------
// Redact: examples
// ---------------------------------------------------------------------------

func TestRedact_MasksKnownPrefixes(t *testing.T) {
	in := map[string]any{
		"api_key":      "sk_test_51Habc123",
		"publishable":  "PK_LIVE_xyz",
		"webhook":      "whsec_AbC123",
		"nested":       []any{map[string]any{"token": "sk_live_deep_value"}},
		"sentence":     "key is sk_test_inline and more",
		"amount":       1000,
		"risk_level":   "normal",
		"description":  "task_force desk_42",
		"already_done": "sk_***",
	}

	out := audit.Redact(in)
	text := mustJSON(t, out)

	for _, secret := range []string{"sk_test_51Habc123", "PK_LIVE_xyz", "whsec_AbC123", "sk_live_deep_value", "sk_test_inline"} {
		assert.NotContains(t, text, secret)
	}

	m, ok := out.(map[string]any)
	require.True(t, ok, "Redact should return an object for an object")
	assert.Equal(t, "sk_***", m["api_key"])
	assert.Equal(t, "pk_***", m["publishable"])
	assert.Equal(t, "whsec_***", m["webhook"])
	assert.Equal(t, "key is sk_*** and more", m["sentence"])
	assert.Equal(t, json.Number("1000"), m["amount"])
	assert.Equal(t, "normal", m["risk_***"])
	assert.Equal(t, "task_*** desk_***", m["description"])
	assert.Equal(t, "sk_***", m["already_done"])
}

func TestRedact_MasksEmbeddedSecrets(t *testing.T) {
	out := audit.Redact(map[string]any{
		"note":   "api_key_sk_live_ABC123",
		"header": "xpk_test_XYZ",
		"wh":     "secret=foowhsec_abcdef",
	})
	text := mustJSON(t, out)

	for _, secret := range []string{"sk_live_ABC123", "pk_test_XYZ", "whsec_abcdef"} {
		assert.NotContains(t, text, secret)
	}
	assert.Equal(t, map[string]any{
		"note":   "api_key_sk_***",
		"header": "xpk_***",
		"wh":     "secret=foowhsec_***",
	}, out)
}

func TestRedact_CollidingKeysAreDeterministic(t *testing.T) {
	in := map[string]any{"sk_live_a": "first", "sk_live_b": "second"}

	for i := 0; i < 100; i++ {
		assert.Equal(t, map[string]any{"sk_***": "second"}, audit.Redact(in))
	}
}

func TestRedact_MasksKeys(t *testing.T) {
	out := audit.Redact(map[string]string{"sk_test_asKey": "v"})
	m := out.(map[string]any)
	_, leaked := m["sk_test_asKey"]
	assert.False(t, leaked)
	assert.Equal(t, "v", m["sk_***"])
}

func TestRedact_EscapedContextStillMasked(t *testing.T) {
	// A newline or an HTML-escaped character before the token must not hide it.
	out := audit.Redact(map[string]any{"note": "line1\nsk_test_after_newline <sk_test_after_lt"})
	text := mustJSON(t, out)
	assert.NotContains(t, text, "after_newline")
	assert.NotContains(t, text, "after_lt")
}

func TestRedact_UnserializableYieldsEmptyObject(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"channel", make(chan int)},
		{"function", func() {}},
		{"NaN", math.NaN()},
		{"map with channel", map[string]any{"c": make(chan int), "k": "sk_test_x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := audit.Redact(tt.in)
			assert.Equal(t, map[string]any{}, out)
		})
	}
}

func TestRedact_Scalars(t *testing.T) {
	assert.Nil(t, audit.Redact(nil))
	assert.Equal(t, "sk_***", audit.Redact("sk_live_123"))
	assert.Equal(t, true, audit.Redact(true))
}

func TestRedact_Struct(t *testing.T) {
	type params struct {
		Secret string `json:"secret"`
		Email  string `json:"email"`
	}
	out := audit.Redact(params{Secret: "sk_test_struct", Email: "a@b.com"})
	assert.Equal(t, map[string]any{"secret": "sk_***", "email": "a@b.com"}, out)
}

// ---------------------------------------------------------------------------
// Redact: properties
// ---------------------------------------------------------------------------

func secretGen() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("sk_", "pk_", "whsec_", "SK_", "Pk_", "WHSEC_"),
		gen.Identifier(),
	).Map(func(vals []interface{}) string {
		prefix := vals[0].(string)
		body := vals[1].(string)
		if strings.EqualFold(prefix, "whsec_") {
			body = strings.ReplaceAll(body, "_", "x")
		}
		return prefix + "t" + body
	})
}

func TestRedact_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no secret survives and output is valid JSON", prop.ForAll(
		func(secret, filler, key string) bool {
			in := map[string]any{
				key + "x": filler + " " + secret,
				"list":    []any{secret, filler},
				"nested":  map[string]any{"value": secret},
			}
			out, err := json.Marshal(audit.Redact(in))
			if err != nil || !json.Valid(out) {
				return false
			}
			return !strings.Contains(string(out), secret)
		},
		secretGen(),
		gen.AlphaString(),
		gen.Identifier(),
	))

	properties.Property("secrets glued onto surrounding text are masked", prop.ForAll(
		func(secret, word, alpha string) bool {
			in := map[string]any{
				word + secret: alpha + secret,
				"joined":      []any{word + secret + alpha, alpha + secret + word},
			}
			out, err := json.Marshal(audit.Redact(in))
			if err != nil || !json.Valid(out) {
				return false
			}
			return !strings.Contains(string(out), secret)
		},
		secretGen(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("secrets used as keys are masked", prop.ForAll(
		func(secret, value string) bool {
			in := map[string]any{
				secret:   value,
				"nested": map[string]any{secret: []any{secret}},
			}
			out, err := json.Marshal(audit.Redact(in))
			if err != nil || !json.Valid(out) {
				return false
			}
			return !strings.Contains(string(out), secret)
		},
		secretGen(),
		gen.AlphaString(),
	))

	properties.Property("redaction is idempotent", prop.ForAll(
		func(secret, filler string, n int) bool {
			in := map[string]any{
				"a": secret,
				"b": filler,
				"c": []any{n, secret + " " + filler},
			}
			once := audit.Redact(in)
			twice := audit.Redact(once)
			return reflect.DeepEqual(once, twice)
		},
		secretGen(),
		gen.AnyString(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
