package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

func snapshot(id string, status model.Status) *model.Snapshot {
	return model.NewSnapshot(model.BulkRequest{ID: id, Status: status, Identifiers: []string{"A"}}, nil)
}

func TestLRUGetPutDelete(t *testing.T) {
	c := NewLRU(10, time.Minute)
	ctx := context.Background()
	if _, ok := c.Get(ctx, "r1"); ok {
		t.Fatal("expected miss for new key")
	}
	c.Put(ctx, "r1", snapshot("r1", model.StatusProcessing))
	got, ok := c.Get(ctx, "r1")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Request.Status != model.StatusProcessing {
		t.Errorf("status = %s", got.Request.Status)
	}
	c.Delete(ctx, "r1")
	if _, ok := c.Get(ctx, "r1"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestLRUExpires(t *testing.T) {
	c := NewLRU(10, 50*time.Millisecond)
	ctx := context.Background()
	c.Put(ctx, "r1", snapshot("r1", model.StatusPending))
	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get(ctx, "r1"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU(2, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "r1", snapshot("r1", model.StatusPending))
	c.Put(ctx, "r2", snapshot("r2", model.StatusPending))
	c.Put(ctx, "r3", snapshot("r3", model.StatusPending))
	if _, ok := c.Get(ctx, "r1"); ok {
		t.Fatal("expected r1 to be evicted")
	}
	if _, ok := c.Get(ctx, "r3"); !ok {
		t.Fatal("expected r3 to be cached")
	}
}

func TestNop(t *testing.T) {
	var c Nop
	c.Put(context.Background(), "r1", snapshot("r1", model.StatusPending))
	if _, ok := c.Get(context.Background(), "r1"); ok {
		t.Fatal("Nop must always miss")
	}
}

func TestRedisUnreachableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	c := NewRedis(client, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "r1", snapshot("r1", model.StatusPending))
	if _, ok := c.Get(ctx, "r1"); ok {
		t.Fatal("expected miss when redis is unreachable")
	}
	c.Delete(ctx, "r1")
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("VKYC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set VKYC_TEST_REDIS_ADDR to run redis cache tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	c := NewRedis(client, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "r-int", snapshot("r-int", model.StatusCompleted))
	got, ok := c.Get(ctx, "r-int")
	if !ok || got.Request.Status != model.StatusCompleted || got.Summary.Pending != 1 {
		t.Fatalf("unexpected cached snapshot %+v, %v", got, ok)
	}
	c.Delete(ctx, "r-int")
	if _, ok := c.Get(ctx, "r-int"); ok {
		t.Fatal("expected miss after delete")
	}
}
