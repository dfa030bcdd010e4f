package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// mockTip implements TipSource for testing
type mockTip struct {
	latest    uint64
	err       error
	callCount int
}

func (m *mockTip) TipHeight(ctx context.Context) (uint64, error) {
	m.callCount++
	return m.latest, m.err
}

func TestHeadCache_CachesResult(t *testing.T) {
	source := &mockTip{latest: 1000}
	cache := NewHeadCache(source, 3*time.Second)

	ctx := context.Background()

	// First call - should hit the node
	result1, err := cache.TipHeight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result1 != 1000 {
		t.Errorf("expected 1000, got %d", result1)
	}

	// Second call within TTL - should use cache
	result2, err := cache.TipHeight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2 != 1000 {
		t.Errorf("expected 1000, got %d", result2)
	}
	if source.callCount != 1 {
		t.Errorf("expected 1 node call (cached), got %d", source.callCount)
	}
	if cache.Cached() != 1000 {
		t.Errorf("expected Cached() 1000, got %d", cache.Cached())
	}
}

func TestHeadCache_ExpiresAfterTTL(t *testing.T) {
	source := &mockTip{latest: 1000}
	cache := NewHeadCache(source, 100*time.Millisecond)

	ctx := context.Background()

	if _, err := cache.TipHeight(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	source.latest = 1001

	result, err := cache.TipHeight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1001 {
		t.Errorf("expected fresh value 1001, got %d", result)
	}
	if source.callCount != 2 {
		t.Errorf("expected 2 node calls, got %d", source.callCount)
	}
}

func TestHeadCache_Invalidate(t *testing.T) {
	source := &mockTip{latest: 1000}
	cache := NewHeadCache(source, 3*time.Second)

	ctx := context.Background()

	if _, err := cache.TipHeight(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cache.Invalidate()
	source.latest = 1001

	// Next call should fetch fresh even though TTL hasn't expired
	result, err := cache.TipHeight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1001 {
		t.Errorf("expected fresh value 1001 after invalidate, got %d", result)
	}
}

func TestHeadCache_ErrorNotCached(t *testing.T) {
	source := &mockTip{err: domain.ErrTimeout}
	cache := NewHeadCache(source, 3*time.Second)

	ctx := context.Background()

	if _, err := cache.TipHeight(ctx); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	source.err = nil
	source.latest = 42
	result, err := cache.TipHeight(ctx)
	if err != nil || result != 42 {
		t.Errorf("expected 42 after recovery, got %d, %v", result, err)
	}
}
