package cache

import (
	"context"
	"testing"
	"time"

	"laundromat-importer/packages/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), Options{Addr: mr.Addr(), TTL: time.Hour, Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_RoundTrip(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	places := []domain.NearbyPlace{{Name: "Joe's Cafe", Category: "Food & Drink", Rating: 4.5, PriceTier: "$"}}
	require.NoError(t, c.Set(ctx, "places:food:austin", places))
	assert.True(t, mr.Exists("test:places:food:austin"))

	var got []domain.NearbyPlace
	hit, err := c.Get(ctx, "places:food:austin", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, places, got)
}

func TestRedis_Miss(t *testing.T) {
	c, _ := setupRedis(t)

	var got []domain.NearbyPlace
	hit, err := c.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, got)
}

func TestRedis_Expires(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []string{"a"}))
	mr.FastForward(2 * time.Hour)

	var got []string
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedis_CorruptValue(t *testing.T) {
	c, mr := setupRedis(t)
	require.NoError(t, mr.Set("test:k", "{not json"))

	var got []string
	hit, err := c.Get(context.Background(), "k", &got)
	assert.False(t, hit)
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
