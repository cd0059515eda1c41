package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"github.com/veritaslabs/yieldengine/internal/domain"
)

func TestSummaryCache_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewSummaryCacheWithClient(db, 30*time.Second)
	ctx := context.Background()

	t.Run("hit returns decoded summary", func(t *testing.T) {
		summary := domain.Summary{AccountID: "acct-1", Amount: 92.25, CapsuleCount: 3}
		data, err := json.Marshal(summary)
		if err != nil {
			t.Fatal(err)
		}

		mock.ExpectGet("yield:summary:acct-1").SetVal(string(data))

		got, found, err := cache.Get(ctx, "acct-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !found {
			t.Fatal("expected cache hit")
		}
		if got.Amount != 92.25 || got.CapsuleCount != 3 {
			t.Errorf("decoded summary mismatch: %+v", got)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("miss returns not found", func(t *testing.T) {
		mock.ExpectGet("yield:summary:acct-2").RedisNil()

		_, found, err := cache.Get(ctx, "acct-2")
		if err != nil {
			t.Fatalf("miss should not error: %v", err)
		}
		if found {
			t.Error("expected cache miss")
		}
	})

	t.Run("corrupt payload errors", func(t *testing.T) {
		mock.ExpectGet("yield:summary:acct-3").SetVal("{not json")

		_, _, err := cache.Get(ctx, "acct-3")
		if err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestSummaryCache_SetAndInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewSummaryCacheWithClient(db, 30*time.Second)
	ctx := context.Background()

	summary := domain.Summary{AccountID: "acct-1", Amount: 50}
	data, err := json.Marshal(summary)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectSet("yield:summary:acct-1", data, 30*time.Second).SetVal("OK")
	if err := cache.Set(ctx, summary); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mock.ExpectDel("yield:summary:acct-1").SetVal(1)
	if err := cache.Invalidate(ctx, "acct-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}
