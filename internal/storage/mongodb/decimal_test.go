package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimal128(t *testing.T) {
	for _, s := range []string{"0", "6.5", "1000.00", "84.69", "-12.345", "99999999.99"} {
		d := decimal.RequireFromString(s)
		v, err := toDecimal128(d)
		require.NoError(t, err, s)
		back, err := fromDecimal128(v)
		require.NoError(t, err, s)
		assert.True(t, d.Equal(back), "%s != %s", d, back)
	}

	p, err := toDecimal128Ptr(nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	d, err := fromDecimal128Ptr(nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}
