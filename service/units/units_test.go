package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinimal(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"whole btc", "1", 8, "100000000", false},
		{"fractional btc", "0.00000001", 8, "1", false},
		{"eth wei precision", "1.000000000000000001", 18, "1000000000000000001", false},
		{"float trap", "0.1", 8, "10000000", false},
		{"too precise", "0.000000001", 8, "", true},
		{"garbage", "abc", 8, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinimal(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToCurrency(t *testing.T) {
	assert.Equal(t, "0.00012", ToCurrency(decimal.NewFromInt(12000), 8))
	assert.Equal(t, "1", ToCurrency(decimal.NewFromInt(1000000000), 9))
	assert.Equal(t, "0", ToCurrency(decimal.Zero, 18))

	wei, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	assert.Equal(t, "123456789012.34567890123456789", ToCurrency(FromBig(wei), 18))
}

func TestRoundTrip(t *testing.T) {
	for _, amount := range []string{"0.1", "21000000", "0.00000546", "3.14159265"} {
		minimal, err := ToMinimal(amount, 8)
		require.NoError(t, err)
		assert.Equal(t, amount, ToCurrency(minimal, 8))
	}
}

func TestParseMinimal(t *testing.T) {
	d, err := ParseMinimal("0xde0b6b3a7640000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", d.String())

	d, err = ParseMinimal(" 5000 ")
	require.NoError(t, err)
	assert.Equal(t, "5000", d.String())

	d, err = ParseMinimal("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseMinimal("1.5")
	assert.Error(t, err)

	_, err = ParseMinimal("0xzz")
	assert.Error(t, err)

	assert.Equal(t, "18446744073709551615", FromUint64(^uint64(0)).String())
}
