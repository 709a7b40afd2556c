// Package hub implements the process-wide router that owns the mapping
// from room name to Room actor. The Hub is a pure router: all payload
// semantics are delegated to Rooms, and the Hub itself is single
// goroutine sequential so two Joins naming the same new room can never
// race room creation (spec §4.3).
package hub

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/adred/chatserver/internal/bufferpool"
	"github.com/adred/chatserver/internal/config"
	"github.com/adred/chatserver/internal/metrics"
	"github.com/adred/chatserver/internal/protocol"
	"github.com/adred/chatserver/internal/room"
)

// Hub routes commands to per-room actors, lazily creating rooms on
// first Join and pruning rooms that have exited on their own (TTL reap).
type Hub struct {
	cfg  config.RoomConfig
	pool *bufferpool.Pool
	reg  *metrics.Registry
	log  *zap.Logger

	cmdCh chan any
}

// New creates a Hub and starts its router goroutine.
func New(cfg config.RoomConfig, pool *bufferpool.Pool, reg *metrics.Registry, log *zap.Logger) *Hub {
	h := &Hub{
		cfg:   cfg,
		pool:  pool,
		reg:   reg,
		log:   log,
		cmdCh: make(chan any, cfg.CommandQueueSize),
	}
	go h.run()
	return h
}

type joinCmd struct {
	room  string
	name  string
	reply chan joinResult
}

type joinResult struct {
	sub room.Subscription
	ok  bool
}

type sendCmd struct {
	room  string
	event protocol.ServerEvent
}

type leaveCmd struct {
	room  string
	name  string
	subID int64
}

type membersCmd struct {
	room  string
	reply chan []string
}

type historyCmd struct {
	room  string
	reply chan []bufferpool.Frame
}

type roomListCmd struct {
	reply chan []string
}

// Join lazily instantiates the named room if needed, forwards Join to
// it, and returns its broadcast subscription.
func (h *Hub) Join(ctx context.Context, roomName, name string) (room.Subscription, bool) {
	reply := make(chan joinResult, 1)
	if !h.submit(ctx, joinCmd{room: roomName, name: name, reply: reply}) {
		return room.Subscription{}, false
	}
	select {
	case res := <-reply:
		return res.sub, res.ok
	case <-ctx.Done():
		return room.Subscription{}, false
	}
}

// Send forwards event to roomName's Room if it exists; otherwise the
// event is dropped silently (spec §4.3, §7: routing-target-absent is
// never an error).
func (h *Hub) Send(ctx context.Context, roomName string, event protocol.ServerEvent) {
	h.submit(ctx, sendCmd{room: roomName, event: event})
}

// Leave forwards a leave to roomName's Room if it exists; otherwise
// it is a no-op.
func (h *Hub) Leave(ctx context.Context, roomName, name string, subID int64) {
	h.submit(ctx, leaveCmd{room: roomName, name: name, subID: subID})
}

// Members returns roomName's current member names, or an empty slice
// if the room does not exist.
func (h *Hub) Members(ctx context.Context, roomName string) []string {
	reply := make(chan []string, 1)
	if !h.submit(ctx, membersCmd{room: roomName, reply: reply}) {
		return nil
	}
	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return nil
	}
}

// History returns roomName's current history frames oldest-first, or
// an empty slice if the room does not exist.
func (h *Hub) History(ctx context.Context, roomName string) []bufferpool.Frame {
	reply := make(chan []bufferpool.Frame, 1)
	if !h.submit(ctx, historyCmd{room: roomName, reply: reply}) {
		return nil
	}
	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return nil
	}
}

// RoomList returns the names of all currently live rooms, pruning any
// room whose actor has exited, sorted for deterministic output.
func (h *Hub) RoomList(ctx context.Context) []string {
	reply := make(chan []string, 1)
	if !h.submit(ctx, roomListCmd{reply: reply}) {
		return nil
	}
	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) submit(ctx context.Context, cmd any) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) run() {
	rooms := make(map[string]*room.Room)

	// live returns rooms[name] if it is still running, pruning it from
	// the map first if its actor has already exited.
	live := func(name string) (*room.Room, bool) {
		r, ok := rooms[name]
		if !ok {
			return nil, false
		}
		select {
		case <-r.Done():
			delete(rooms, name)
			h.reg.RoomsActive.Set(float64(len(rooms)))
			return nil, false
		default:
			return r, true
		}
	}

	getOrCreate := func(name string) *room.Room {
		if r, ok := live(name); ok {
			return r
		}
		r := room.Spawn(name, h.cfg, h.pool, h.reg, h.log)
		rooms[name] = r
		h.reg.RoomsActive.Set(float64(len(rooms)))
		h.log.Debug("room created", zap.String("room", name))
		return r
	}

	ctx := context.Background()

	for raw := range h.cmdCh {
		switch cmd := raw.(type) {
		case joinCmd:
			r := getOrCreate(cmd.room)
			sub, ok := r.Join(ctx, cmd.name)
			cmd.reply <- joinResult{sub: sub, ok: ok}

		case sendCmd:
			if r, ok := live(cmd.room); ok {
				r.Send(ctx, cmd.event)
			}

		case leaveCmd:
			if r, ok := live(cmd.room); ok {
				r.Leave(ctx, cmd.name, cmd.subID)
			}

		case membersCmd:
			if r, ok := live(cmd.room); ok {
				v, _ := r.Members(ctx)
				cmd.reply <- v
			} else {
				cmd.reply <- []string{}
			}

		case historyCmd:
			if r, ok := live(cmd.room); ok {
				v, _ := r.History(ctx)
				cmd.reply <- v
			} else {
				cmd.reply <- []bufferpool.Frame{}
			}

		case roomListCmd:
			names := make([]string, 0, len(rooms))
			for name := range rooms {
				if _, ok := live(name); ok {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			cmd.reply <- names
		}
	}
}
