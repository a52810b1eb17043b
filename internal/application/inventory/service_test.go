package inventory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	appinv "github.com/smartshop/commerce/internal/application/inventory"
	dominv "github.com/smartshop/commerce/internal/domain/inventory"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	"github.com/smartshop/commerce/internal/infrastructure/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) byName(name string) []domoutbox.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domoutbox.Event
	for _, e := range p.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

func seedLevel(t *testing.T, repo *memory.InventoryRepository, productID string, quantity, minLevel int) {
	t.Helper()
	level, err := dominv.NewLevel(productID, quantity, minLevel)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), level))
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()
	svc := appinv.NewService(repo, &recordingPublisher{}, 0, nil)
	seedLevel(t, repo, "prod-1", 10, 2)

	require.NoError(t, svc.Reserve(ctx, "prod-1", 4))
	level, err := svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 6, level.Quantity)

	err = svc.Reserve(ctx, "prod-1", 100)
	assert.ErrorIs(t, err, dominv.ErrInsufficientStock)
	level, err = svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 6, level.Quantity, "failed reservation must not touch stock")

	require.NoError(t, svc.Release(ctx, "prod-1", 4))
	level, err = svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)
}

func TestReserveUnknownProduct(t *testing.T) {
	svc := appinv.NewService(memory.NewInventoryRepository(), &recordingPublisher{}, 0, nil)

	err := svc.Reserve(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}

func TestReserveValidation(t *testing.T) {
	svc := appinv.NewService(memory.NewInventoryRepository(), &recordingPublisher{}, 0, nil)

	assert.Error(t, svc.Reserve(context.Background(), "", 1))
	assert.Error(t, svc.Reserve(context.Background(), "prod-1", 0))
	assert.Error(t, svc.Release(context.Background(), "prod-1", -1))
}

// Concurrent reservations against one product must never drive stock
// negative: the version guard forces losers to re-read and re-check.
func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()
	svc := appinv.NewService(repo, &recordingPublisher{}, 100, nil)

	const stock = 50
	const workers = 80
	seedLevel(t, repo, "prod-1", stock, 0)

	var mu sync.Mutex
	successes := 0
	insufficient := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			err := svc.Reserve(gctx, "prod-1", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, dominv.ErrInsufficientStock):
				insufficient++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, successes)
	assert.Equal(t, workers-stock, insufficient)

	level, err := svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, level.Quantity)
	assert.GreaterOrEqual(t, level.Quantity, 0)
}

func TestStockLowEventFiresOnceOnCrossing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()
	pub := &recordingPublisher{}
	svc := appinv.NewService(repo, pub, 0, nil)
	seedLevel(t, repo, "prod-1", 5, 3)

	require.NoError(t, svc.Reserve(ctx, "prod-1", 1)) // 4, above threshold
	assert.Empty(t, pub.byName(dominv.StockLowEvent{}.EventName()))

	require.NoError(t, svc.Reserve(ctx, "prod-1", 1)) // 3, crosses
	events := pub.byName(dominv.StockLowEvent{}.EventName())
	require.Len(t, events, 1)
	evt, ok := events[0].(dominv.StockLowEvent)
	require.True(t, ok)
	assert.Equal(t, "prod-1", evt.ProductID)
	assert.Equal(t, 3, evt.Quantity)

	require.NoError(t, svc.Reserve(ctx, "prod-1", 1)) // already low, no repeat
	assert.Len(t, pub.byName(dominv.StockLowEvent{}.EventName()), 1)
}

func TestRestockCreatesAndTopsUp(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()
	svc := appinv.NewService(repo, &recordingPublisher{}, 0, nil)

	require.NoError(t, svc.Restock(ctx, "prod-1", 20, 5))
	level, err := svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 20, level.Quantity)
	assert.Equal(t, 5, level.MinLevel)

	require.NoError(t, svc.Restock(ctx, "prod-1", 10, 8))
	level, err = svc.Level(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 30, level.Quantity)
	assert.Equal(t, 8, level.MinLevel)
}
