package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOfRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(1500), PercentOf(10000, 15))
	assert.Equal(t, int64(1), PercentOf(10, 5))
	assert.Equal(t, int64(0), PercentOf(9, 5))
	assert.Equal(t, int64(0), PercentOf(10000, 0))
}

func TestPriceSession(t *testing.T) {
	p := PriceSession(20000, 10, 20)

	assert.Equal(t, int64(20000), p.Subtotal)
	assert.Equal(t, int64(2000), p.ServiceFee)
	assert.Equal(t, int64(22000), p.Total)
	assert.Equal(t, int64(4000), p.PlatformFee)
	assert.Equal(t, int64(16000), p.ProviderEarnings)
	assert.Equal(t, p.Subtotal, p.PlatformFee+p.ProviderEarnings)
}

func TestPriceEditing(t *testing.T) {
	flat, ok := PriceEditing(PricingFlat, 5000, 0, 10)
	require.True(t, ok)
	assert.Equal(t, EditingPrice{Base: 5000, ServiceFee: 500, Total: 5500}, flat)

	perPhoto, ok := PriceEditing(PricingPerPhoto, 250, 12, 10)
	require.True(t, ok)
	assert.Equal(t, int64(3000), perPhoto.Base)
	assert.Equal(t, int64(3300), perPhoto.Total)

	_, ok = PriceEditing(PricingPerPhoto, 250, 0, 10)
	assert.False(t, ok)
	_, ok = PriceEditing(PricingFlat, 0, 3, 10)
	assert.False(t, ok)
	_, ok = PriceEditing("hourly", 100, 3, 10)
	assert.False(t, ok)
}

func TestNewEarning(t *testing.T) {
	e := NewEarning(SourceEditing, "b-1", "prov", "usd", 3000, 20)

	assert.Equal(t, EarningHeld, e.Status)
	assert.Equal(t, int64(600), e.PlatformFee)
	assert.Equal(t, int64(2400), e.NetAmount)
	assert.Equal(t, e.GrossAmount, e.PlatformFee+e.NetAmount)
}
