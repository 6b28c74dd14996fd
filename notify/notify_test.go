package notify_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/flowcore/notify"
)

func TestLocal_CoalescesNotifications(t *testing.T) {
	n := notify.NewLocal()
	ctx := context.Background()

	for range 5 {
		n.Notify(ctx)
	}

	select {
	case <-n.C():
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	select {
	case <-n.C():
		t.Fatal("notifications were not coalesced")
	default:
	}
}

func TestLocal_NotifyNeverBlocks(t *testing.T) {
	n := notify.NewLocal()
	done := make(chan struct{})
	go func() {
		for range 100 {
			n.Notify(context.Background())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with nobody receiving")
	}
}

func TestRedis_DeliversLocallyWhenPublishFails(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	n := notify.NewRedis(client, "node-a", notify.WithLogger(slog.New(slog.DiscardHandler)))
	n.Notify(context.Background())

	select {
	case <-n.C():
	case <-time.After(time.Second):
		t.Fatal("local notification lost on publish failure")
	}
}
