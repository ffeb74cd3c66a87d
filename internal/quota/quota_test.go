package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type brokenStore struct {
	getErr     error
	consumeErr error
}

func (b brokenStore) Get(_ context.Context, clientID string) (Quota, error) {
	return Quota{ClientID: clientID, Remaining: 5}, b.getErr
}

func (b brokenStore) Consume(context.Context, string) (Quota, error) {
	return Quota{}, b.consumeErr
}

func (b brokenStore) TopUp(context.Context, string, int64) (Quota, error) {
	return Quota{}, errors.New("not supported")
}

func TestGateCheckRejectsEmptyQuota(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	g := NewGate(store, quietLogger())

	_, err := g.Check(ctx, "acme")
	assert.ErrorIs(t, err, ErrQuotaExhausted, "a client without a quota row has nothing remaining")

	_, err = g.TopUp(ctx, "acme", 2)
	require.NoError(t, err)
	q, err := g.Check(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.Remaining)
}

func TestGateCheckSurfacesStoreErrors(t *testing.T) {
	g := NewGate(brokenStore{getErr: errors.New("connection refused")}, quietLogger())
	_, err := g.Check(context.Background(), "acme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExhausted)
}

func TestGateCommitDecrementsByOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.TopUp(ctx, "acme", 3)
	g := NewGate(store, quietLogger())

	q, ok := g.Commit(ctx, "acme")
	require.True(t, ok)
	assert.Equal(t, Quota{ClientID: "acme", Remaining: 2, Used: 1}, q)
}

func TestGateCommitFailureIsBestEffort(t *testing.T) {
	g := NewGate(brokenStore{consumeErr: errors.New("timeout")}, quietLogger())
	q, ok := g.Commit(context.Background(), "acme")
	assert.False(t, ok)
	assert.Equal(t, "acme", q.ClientID)
}

func TestGateCommitRaceForLastToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.TopUp(ctx, "acme", 1)
	g := NewGate(store, quietLogger())

	const racers = 8
	var wg sync.WaitGroup
	results := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = g.Commit(ctx, "acme")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	q, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Remaining)
	assert.Equal(t, int64(1), q.Used)

	_, err = g.Check(ctx, "acme")
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestTopUpRejectsNonPositiveAmounts(t *testing.T) {
	g := NewGate(NewMemoryStore(), quietLogger())
	_, err := g.TopUp(context.Background(), "acme", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = g.TopUp(context.Background(), " ", 5)
	assert.Error(t, err)
}
