package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/basket/lexflow/internal/liststore"
)

func TestDedupMarkSeenOnce(t *testing.T) {
	ctx := context.Background()
	d := NewDedupStore(liststore.NewMemory())

	seen, err := d.Seen(ctx, "abc123")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if seen {
		t.Fatal("Seen reported true for unknown hash")
	}

	written, err := d.MarkSeen(ctx, "abc123")
	if err != nil || !written {
		t.Fatalf("first MarkSeen = (%v, %v), want (true, nil)", written, err)
	}

	written, err = d.MarkSeen(ctx, "abc123")
	if err != nil {
		t.Fatalf("second MarkSeen error: %v", err)
	}
	if written {
		t.Fatal("second MarkSeen reported written")
	}

	seen, err = d.Seen(ctx, "abc123")
	if err != nil || !seen {
		t.Fatalf("Seen after mark = (%v, %v), want (true, nil)", seen, err)
	}

	if _, ok, err := d.FirstSeenAt(ctx, "abc123"); err != nil || !ok {
		t.Fatalf("FirstSeenAt = (ok=%v, err=%v), want (true, nil)", ok, err)
	}
}

func TestDedupConcurrentMarkSingleWinner(t *testing.T) {
	ctx := context.Background()
	d := NewDedupStore(liststore.NewMemory())

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			written, err := d.MarkSeen(ctx, "contested")
			if err != nil {
				t.Errorf("MarkSeen error: %v", err)
				return
			}
			results <- written
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for written := range results {
		if written {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("MarkSeen winners = %d, want exactly 1", winners)
	}
}
