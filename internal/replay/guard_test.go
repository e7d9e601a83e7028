package replay

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	g, err := New(context.Background(), "redis://"+s.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, s
}

func TestFirstSeenDetectsReplay(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	first, err := g.FirstSeen(ctx, []byte(`{"id":1}`))
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstSeen(ctx, []byte(`{"id":1}`))
	require.NoError(t, err)
	assert.False(t, again)

	other, err := g.FirstSeen(ctx, []byte(`{"id":2}`))
	require.NoError(t, err)
	assert.True(t, other)
}

func TestFirstSeenExpires(t *testing.T) {
	g, s := newGuard(t)
	ctx := context.Background()

	_, err := g.FirstSeen(ctx, []byte("payload"))
	require.NoError(t, err)

	s.FastForward(2 * time.Hour)

	first, err := g.FirstSeen(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, first)
}

func TestForgetAllowsRedelivery(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.FirstSeen(ctx, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, g.Forget(ctx, []byte("payload")))

	first, err := g.FirstSeen(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, first)
}

func TestNilGuardAcceptsEverything(t *testing.T) {
	var g *Guard
	first, err := g.FirstSeen(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, g.Ping(context.Background()))
	assert.NoError(t, g.Close())
}

func TestFirstSeenFailsOpenWhenRedisDown(t *testing.T) {
	g, s := newGuard(t)
	s.Close()

	first, err := g.FirstSeen(context.Background(), []byte("x"))
	assert.Error(t, err)
	assert.True(t, first)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}
