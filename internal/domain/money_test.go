package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCents_String(t *testing.T) {
	assert.Equal(t, "100.50 AUD", Cents(10_050).String())
	assert.Equal(t, "-200.00 AUD", Cents(-20_000).String())
}

func TestParseDollars(t *testing.T) {
	cases := []struct {
		in   string
		want Cents
	}{
		{"100", 10_000},
		{"100.5", 10_050},
		{"1,250.00", 125_000},
		{"$0.07", 7},
		{"-20.00", -2_000},
	}
	for _, tc := range cases {
		got, err := ParseDollars(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseDollars_RejectsSubCent(t *testing.T) {
	_, err := ParseDollars("10.001")
	require.Error(t, err)

	_, err = ParseDollars("abc")
	require.Error(t, err)

	_, err = ParseDollars(" ")
	require.Error(t, err)
}

func TestCents_Abs(t *testing.T) {
	assert.Equal(t, Cents(5), Cents(-5).Abs())
	assert.Equal(t, Cents(5), Cents(5).Abs())
}
