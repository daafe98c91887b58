package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestAcquireCallClaim_Exclusive(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	ok, err := AcquireCallClaim(ctx, rdb, "call_claim:abc", "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ok, err = AcquireCallClaim(ctx, rdb, "call_claim:abc", "owner-2", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}

	// Re-entrant for the same owner.
	ok, err = AcquireCallClaim(ctx, rdb, "call_claim:abc", "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ok {
		t.Fatalf("expected re-acquire by same owner to succeed")
	}
}

func TestReleaseCallClaim_OnlyOwnerReleases(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	if _, err := AcquireCallClaim(ctx, rdb, "call_claim:xyz", "owner-1", time.Minute); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := ReleaseCallClaim(ctx, rdb, "call_claim:xyz", "owner-2"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ok, err := AcquireCallClaim(ctx, rdb, "call_claim:xyz", "owner-3", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected claim to survive a non-owner release")
	}

	if err := ReleaseCallClaim(ctx, rdb, "call_claim:xyz", "owner-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ok, err = AcquireCallClaim(ctx, rdb, "call_claim:xyz", "owner-3", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim to be acquirable after owner release")
	}
}
