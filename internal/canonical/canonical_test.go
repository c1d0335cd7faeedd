package canonical

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeVectors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sorted_nested",
			in:   `{"b":1,"a":{"d":[3,2,1],"c":"x"}}`,
			want: `{"a":{"c":"x","d":[3,2,1]},"b":1}`,
		},
		{
			name: "whitespace",
			in:   "{\n  \"z\" : [ true, false, null ],\n  \"y\" : { }\n}",
			want: `{"y":{},"z":[true,false,null]}`,
		},
		{
			name: "numbers",
			in:   `{"n":1.50,"m":1e3,"z":-0,"big":9007199254740993,"neg":-20000}`,
			want: `{"big":9007199254740993,"m":1000,"n":1.5,"neg":-20000,"z":0}`,
		},
		{
			name: "no_html_escaping",
			in:   `{"s":"<a&b>"}`,
			want: `{"s":"<a&b>"}`,
		},
		{
			name: "unicode_byte_order",
			in:   `{"é":1,"e":2,"E":3}`,
			want: `{"E":3,"e":2,"é":1}`,
		},
		{
			name: "escapes",
			in:   `{"q":"line\nbreak \"quoted\""}`,
			want: `{"q":"line\nbreak \"quoted\""}`,
		},
		{
			name: "top_level_array",
			in:   `[{"b":2,"a":1},"x"]`,
			want: `[{"a":1,"b":2},"x"]`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestCanonicalizeRejectsDuplicateKeys(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1,"a":2}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	docs := []string{
		`{"entity_id":"12345678901","nested":{"z":[{"k":"v","a":[1,2,{"y":null,"x":0.10}]}],"a":true}}`,
		`{"nested":{"a":true,"z":[{"a":[1,2,{"x":0.1,"y":null}],"k":"v"}]},"entity_id":"12345678901"}`,
	}

	var first []byte
	for i, doc := range docs {
		c1, err := Canonicalize([]byte(doc))
		require.NoError(t, err)

		parsed, err := Parse(c1)
		require.NoError(t, err)
		c2, err := Marshal(parsed)
		require.NoError(t, err)
		assert.Equal(t, string(c1), string(c2))

		if i == 0 {
			first = c1
			continue
		}
		assert.Equal(t, string(first), string(c1), "key order must not affect canonical form")
	}
}

func TestMarshalStructWithDecimals(t *testing.T) {
	payload := struct {
		PeriodID    string          `json:"period_id"`
		AmountCents int64           `json:"amount_cents"`
		Ratio       decimal.Decimal `json:"ratio"`
	}{
		PeriodID:    "2025-Q1",
		AmountCents: 20000,
		Ratio:       decimal.RequireFromString("0.250"),
	}

	got, err := Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"amount_cents":20000,"period_id":"2025-Q1","ratio":"0.25"}`, string(got))
}
