package presence

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Integration tests are enabled when CHAT_REDIS_URL is set.

func TestRedisLastSeen_OnlineOfflineCycle(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("CHAT_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CHAT_REDIS_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.prefix = "chat:it:" + uuid.NewString() + ":"
	user := "u-" + uuid.NewString()
	t.Cleanup(func() {
		_ = s.client.Del(context.Background(), s.onlineKey(user), s.lastSeenKey(user)).Err()
	})

	if err := s.MarkOnline(ctx, user); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if n, err := s.client.Exists(ctx, s.onlineKey(user)).Result(); err != nil || n != 1 {
		t.Fatalf("expected online flag, got n=%d err=%v", n, err)
	}
	if ts, err := s.LastSeen(ctx, user); err != nil || ts != nil {
		t.Fatalf("expected no last_seen while online, got %v err=%v", ts, err)
	}

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := s.MarkOffline(ctx, user, at); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if n, err := s.client.Exists(ctx, s.onlineKey(user)).Result(); err != nil || n != 0 {
		t.Fatalf("expected online flag cleared, got n=%d err=%v", n, err)
	}
	ts, err := s.LastSeen(ctx, user)
	if err != nil || ts == nil || !ts.Equal(at) {
		t.Fatalf("last_seen=%v err=%v want %v", ts, err, at)
	}

	if err := s.MarkOnline(ctx, user); err != nil {
		t.Fatalf("mark online again: %v", err)
	}
	if ts, _ := s.LastSeen(ctx, user); ts != nil {
		t.Fatalf("expected last_seen cleared on reconnect, got %v", ts)
	}
}
