package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestTryConsumeSaturates(t *testing.T) {
	lim, _ := newTestLimiter(t)
	ctx := context.Background()

	const ceiling = 3
	for i := 1; i <= ceiling; i++ {
		dec, err := lim.TryConsume(ctx, "t1", "yt", ceiling)
		if err != nil {
			t.Fatalf("attempt %d returned error: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i)
		}
		if dec.Used != int64(i) {
			t.Fatalf("attempt %d used %d, want %d", i, dec.Used, i)
		}
	}

	dec, err := lim.TryConsume(ctx, "t1", "yt", ceiling)
	if err != nil {
		t.Fatalf("over-ceiling attempt returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatal("attempt past ceiling allowed, want denied")
	}
	if dec.Used != ceiling+1 {
		t.Fatalf("denied attempt not counted: used %d, want %d", dec.Used, ceiling+1)
	}
}

func TestTryConsumeIsolatesTenantAndChannel(t *testing.T) {
	lim, _ := newTestLimiter(t)
	ctx := context.Background()

	if dec, _ := lim.TryConsume(ctx, "t1", "yt", 1); !dec.Allowed {
		t.Fatal("first attempt denied")
	}
	if dec, _ := lim.TryConsume(ctx, "t1", "yt", 1); dec.Allowed {
		t.Fatal("second attempt for same bucket allowed")
	}
	if dec, _ := lim.TryConsume(ctx, "t1", "fb", 1); !dec.Allowed {
		t.Fatal("sibling channel shares the bucket")
	}
	if dec, _ := lim.TryConsume(ctx, "t2", "yt", 1); !dec.Allowed {
		t.Fatal("sibling tenant shares the bucket")
	}
}

func TestTryConsumeResetsAfterUTCMidnight(t *testing.T) {
	lim, _ := newTestLimiter(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC)
	lim.now = func() time.Time { return day }
	if dec, _ := lim.TryConsume(ctx, "t1", "yt", 1); !dec.Allowed {
		t.Fatal("first attempt denied")
	}
	if dec, _ := lim.TryConsume(ctx, "t1", "yt", 1); dec.Allowed {
		t.Fatal("exhausted bucket allowed")
	}

	lim.now = func() time.Time { return day.Add(2 * time.Minute) }
	dec, err := lim.TryConsume(ctx, "t1", "yt", 1)
	if err != nil {
		t.Fatalf("post-midnight attempt returned error: %v", err)
	}
	if !dec.Allowed || dec.Used != 1 {
		t.Fatalf("new day bucket not fresh: allowed=%v used=%d", dec.Allowed, dec.Used)
	}
}

func TestBucketGetsTTL(t *testing.T) {
	lim, mr := newTestLimiter(t)
	if _, err := lim.TryConsume(context.Background(), "t1", "yt", 5); err != nil {
		t.Fatalf("consume: %v", err)
	}
	key := "quota:t1:yt:" + time.Now().UTC().Format("20060102")
	if mr.TTL(key) <= 0 {
		t.Fatalf("bucket %s has no TTL", key)
	}
}
