package throttle

import (
	"errors"
	"testing"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

func TestChunkSizer_HalvesToFloor(t *testing.T) {
	sizer := NewChunkSizer(Config{BulkSize: 10000})

	want := []int{5000, 2500, 1250, 625, 312, 156, 78, 39, 19, 9, 4, 2, 1}
	for i, expected := range want {
		size, err := sizer.Shrink()
		if err != nil {
			t.Fatalf("shrink %d: unexpected error %v", i, err)
		}
		if size != expected {
			t.Fatalf("shrink %d: got size %d, want %d", i, size, expected)
		}
	}
	if !sizer.Degraded() {
		t.Error("expected sizer to report degraded")
	}
}

func TestChunkSizer_HaltsAfterThreeFailuresAtOne(t *testing.T) {
	sizer := NewChunkSizer(Config{BulkSize: 2})

	if size, err := sizer.Shrink(); err != nil || size != 1 {
		t.Fatalf("first shrink: got %d, %v", size, err)
	}

	for i := 1; i <= 2; i++ {
		if _, err := sizer.Shrink(); err != nil {
			t.Fatalf("failure %d at size 1 should be retried, got %v", i, err)
		}
	}
	_, err := sizer.Shrink()
	if !errors.Is(err, domain.ErrSyncHalted) {
		t.Fatalf("expected ErrSyncHalted on third failure at size 1, got %v", err)
	}
}

func TestChunkSizer_SuccessResetsFloorFailures(t *testing.T) {
	sizer := NewChunkSizer(Config{BulkSize: 1})

	_, _ = sizer.Shrink()
	_, _ = sizer.Shrink()
	sizer.Success()

	for i := 0; i < 2; i++ {
		if _, err := sizer.Shrink(); err != nil {
			t.Fatalf("failure %d after success should not halt: %v", i, err)
		}
	}
}

func TestChunkSizer_Recovers(t *testing.T) {
	sizer := NewChunkSizer(Config{BulkSize: 1000, RecoverAfter: 3})

	_, _ = sizer.Shrink() // 500
	_, _ = sizer.Shrink() // 250

	tests := []struct {
		name     string
		grew     bool
		expected int
	}{
		{"first success", false, 250},
		{"second success", false, 250},
		{"third success doubles", true, 500},
		{"fourth success", false, 500},
		{"fifth success", false, 500},
		{"sixth success doubles", true, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grew := sizer.Success()
			if grew != tt.grew || sizer.Size() != tt.expected {
				t.Errorf("Success() = %v size %d, want %v size %d", grew, sizer.Size(), tt.grew, tt.expected)
			}
		})
	}

	if sizer.Degraded() {
		t.Error("expected sizer back at bulk size")
	}
	if sizer.Success() {
		t.Error("size must not grow past bulk size")
	}
}

func TestChunkSizer_ShrinksCounter(t *testing.T) {
	sizer := NewChunkSizer(Config{BulkSize: 4})

	_, _ = sizer.Shrink()
	_, _ = sizer.Shrink()
	_, _ = sizer.Shrink() // already at 1, not a shrink

	if got := sizer.Shrinks(); got != 2 {
		t.Errorf("expected 2 shrinks, got %d", got)
	}

	sizer.Reset()
	if sizer.Size() != 4 {
		t.Errorf("expected reset to bulk size, got %d", sizer.Size())
	}
}
