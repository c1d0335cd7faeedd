package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationValidate(t *testing.T) {
	cases := []struct {
		name string
		in   Destination
		ok   bool
	}{
		{
			name: "eft",
			in:   Destination{Rail: RailEFT, EFT: &EFTDestination{BSB: "062-000", AccountNumber: "12345678"}},
			ok:   true,
		},
		{
			name: "bpay",
			in:   Destination{Rail: RailBPAY, BPAY: &BPAYDestination{BillerCode: "75556", CRN: "551234567890"}},
			ok:   true,
		},
		{
			name: "payto",
			in:   Destination{Rail: RailPayTo, PayTo: &PayToDestination{PayID: " Tax@Example.com "}},
			ok:   true,
		},
		{name: "missing_variant", in: Destination{Rail: RailEFT}, ok: false},
		{
			name: "mixed_variants",
			in: Destination{
				Rail:  RailEFT,
				EFT:   &EFTDestination{BSB: "062000", AccountNumber: "12345678"},
				PayTo: &PayToDestination{PayID: "a@b.c"},
			},
			ok: false,
		},
		{name: "bad_bsb", in: Destination{Rail: RailEFT, EFT: &EFTDestination{BSB: "06200", AccountNumber: "12345678"}}, ok: false},
		{name: "unknown_rail", in: Destination{Rail: "SWIFT"}, ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Normalize()
			err := tc.in.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestDestinationKey(t *testing.T) {
	d := Destination{Rail: "eft", EFT: &EFTDestination{BSB: "062-000", AccountNumber: " 12345678 "}}
	d.Normalize()
	assert.Equal(t, "EFT:062000:12345678", d.Key())

	p := Destination{Rail: RailPayTo, PayTo: &PayToDestination{PayID: "Tax@Example.com"}}
	p.Normalize()
	assert.Equal(t, "PAYTO:tax@example.com", p.Key())
}

func TestRailIdempotentResubmit(t *testing.T) {
	assert.False(t, RailEFT.IdempotentResubmit())
	assert.True(t, RailBPAY.IdempotentResubmit())
	assert.True(t, RailPayTo.IdempotentResubmit())
}
