package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adred/chatserver/internal/bufferpool"
	"github.com/adred/chatserver/internal/config"
	"github.com/adred/chatserver/internal/metrics"
	"github.com/adred/chatserver/internal/protocol"
)

func testHub(t *testing.T, cfg config.RoomConfig) *Hub {
	t.Helper()
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Millisecond
	}
	if cfg.BroadcastQueueSize == 0 {
		cfg.BroadcastQueueSize = 8
	}
	if cfg.CommandQueueSize == 0 {
		cfg.CommandQueueSize = 32
	}
	return New(cfg, bufferpool.New(), metrics.NewRegistry(), zap.NewNop())
}

func TestRoomListPreJoin(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{})

	if _, ok := h.Join(ctx, "a", "alice"); !ok {
		t.Fatal("join a failed")
	}
	if _, ok := h.Join(ctx, "b", "bob"); !ok {
		t.Fatal("join b failed")
	}

	got := h.RoomList(ctx)
	want := map[string]bool{"a": true, "b": true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Fatalf("expected rooms {a,b}, got %v", got)
	}
}

func TestMembersQueryAbsentRoomReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{})

	members := h.Members(ctx, "nonexistent")
	if len(members) != 0 {
		t.Fatalf("expected empty members for absent room, got %v", members)
	}
}

func TestSendAndLeaveToAbsentRoomAreNoops(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{})

	// Must not panic or block.
	h.Send(ctx, "nonexistent", protocol.ServerEvent{NewMessage: &protocol.NewMessageEvent{Room: "nonexistent", Name: "x", Text: "hi", Ts: 1}})
	h.Leave(ctx, "nonexistent", "x", 1)
}

func TestConcurrentJoinsSameNewRoomCreateOneRoom(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{})

	const n = 20
	var wg sync.WaitGroup
	subs := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := h.Join(ctx, "rust", "user")
			subs[i] = ok
		}(i)
	}
	wg.Wait()

	for i, ok := range subs {
		if !ok {
			t.Fatalf("join %d failed", i)
		}
	}

	rooms := h.RoomList(ctx)
	if len(rooms) != 1 || rooms[0] != "rust" {
		t.Fatalf("expected exactly one room \"rust\", got %v", rooms)
	}
}

func TestRoomListPrunesReapedRooms(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{TTL: 15 * time.Millisecond, SweepInterval: 5 * time.Millisecond})

	sub, ok := h.Join(ctx, "rust", "alice")
	if !ok {
		t.Fatal("join failed")
	}
	h.Leave(ctx, "rust", "alice", sub.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rooms := h.RoomList(ctx); len(rooms) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("room was never pruned from RoomList after TTL reap")
}

func TestHistoryReplayToJoiner(t *testing.T) {
	ctx := context.Background()
	h := testHub(t, config.RoomConfig{HistoryLimit: 3})

	sub, _ := h.Join(ctx, "rust", "alice")
	<-sub.Frames // own join

	for _, text := range []string{"m1", "m2", "m3", "m4"} {
		h.Send(ctx, "rust", protocol.ServerEvent{NewMessage: &protocol.NewMessageEvent{Room: "rust", Name: "alice", Text: text, Ts: 1}})
	}
	h.Leave(ctx, "rust", "alice", sub.ID)

	hist := h.History(ctx, "rust")
	if len(hist) != 3 {
		t.Fatalf("expected 3 history frames, got %d", len(hist))
	}
	want := []string{"m2", "m3", "m4"}
	for i, f := range hist {
		evt, err := protocol.DecodeServerEvent(f.Bytes())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.NewMessage == nil || evt.NewMessage.Text != want[i] {
			t.Fatalf("history[%d] = %+v, want %q", i, evt, want[i])
		}
	}
}
