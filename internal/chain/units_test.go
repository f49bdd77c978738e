package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/domain"
)

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"250000000000000000", "0.25"},
		{"1", "0.000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			wei, ok := new(big.Int).SetString(tt.wei, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, FormatEther(wei))
		})
	}
	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.25")
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", wei.String())

	wei, err = ParseEther("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", wei.String())

	wei, err = ParseEther(".5")
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", wei.String())

	for _, bad := range []string{"", "-1", "abc", "1.2.3", "0.0000000000000000001"} {
		_, err := ParseEther(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidPrice, bad)
	}
}
