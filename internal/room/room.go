// Package room implements the per-room actor: one goroutine owning a
// room's membership, history ring and broadcast fan-out. A Room is the
// sole mutator of its own state; every other component reaches it only
// through its command channel (spec §3 invariant 1, §4.2).
package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adred/chatserver/internal/bufferpool"
	"github.com/adred/chatserver/internal/config"
	"github.com/adred/chatserver/internal/metrics"
	"github.com/adred/chatserver/internal/protocol"
)

// Subscription is handed back from Join: a live feed of this room's
// broadcast frames, plus the id needed to tear the feed down on Leave.
type Subscription struct {
	ID     int64
	Frames <-chan bufferpool.Frame
}

// Room is one room's actor. All fields below are owned exclusively by
// the goroutine started in Spawn; no other goroutine touches them.
type Room struct {
	name string
	cfg  config.RoomConfig
	pool *bufferpool.Pool
	reg  *metrics.Registry
	log  *zap.Logger

	cmdCh chan any
	done  chan struct{}
}

// Spawn starts a new Room actor goroutine and returns its handle.
func Spawn(name string, cfg config.RoomConfig, pool *bufferpool.Pool, reg *metrics.Registry, log *zap.Logger) *Room {
	r := &Room{
		name:  name,
		cfg:   cfg,
		pool:  pool,
		reg:   reg,
		log:   log,
		cmdCh: make(chan any, cfg.CommandQueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Done returns a channel closed once the room actor has exited. The
// only exit is a TTL reap: a Room has no shutdown command, so a room
// that is never left empty for longer than its TTL runs until the
// process exits.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

type joinCmd struct {
	name  string
	reply chan Subscription
}

type sendCmd struct {
	event protocol.ServerEvent
}

type leaveCmd struct {
	name  string
	subID int64
}

type membersCmd struct {
	reply chan []string
}

type historyCmd struct {
	reply chan []bufferpool.Frame
}

// Join adds name to the room's membership, subscribes a fresh broadcast
// receiver, and broadcasts UserJoined only after the receiver exists
// (spec invariant 7): the returned Subscription's first frame is always
// that connection's own join event.
func (r *Room) Join(ctx context.Context, name string) (Subscription, bool) {
	reply := make(chan Subscription, 1)
	if !r.submit(ctx, joinCmd{name: name, reply: reply}) {
		return Subscription{}, false
	}
	select {
	case sub := <-reply:
		return sub, true
	case <-ctx.Done():
		return Subscription{}, false
	case <-r.done:
		return Subscription{}, false
	}
}

// Send broadcasts event to every current subscriber and, if it is a
// NewMessage, appends its frame to history.
func (r *Room) Send(ctx context.Context, event protocol.ServerEvent) bool {
	return r.submit(ctx, sendCmd{event: event})
}

// Leave removes name from membership (idempotent: a no-op, no broadcast,
// if name is not present) and tears down the subscription identified by
// subID.
func (r *Room) Leave(ctx context.Context, name string, subID int64) bool {
	return r.submit(ctx, leaveCmd{name: name, subID: subID})
}

// Members returns a snapshot of current member names, any order.
func (r *Room) Members(ctx context.Context) ([]string, bool) {
	reply := make(chan []string, 1)
	if !r.submit(ctx, membersCmd{reply: reply}) {
		return nil, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-ctx.Done():
		return nil, false
	case <-r.done:
		return nil, false
	}
}

// History returns an ordered copy of the current history ring, oldest
// frame first.
func (r *Room) History(ctx context.Context) ([]bufferpool.Frame, bool) {
	reply := make(chan []bufferpool.Frame, 1)
	if !r.submit(ctx, historyCmd{reply: reply}) {
		return nil, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-ctx.Done():
		return nil, false
	case <-r.done:
		return nil, false
	}
}

// submit enqueues cmd, returning false if the room has already exited
// or ctx was cancelled first.
func (r *Room) submit(ctx context.Context, cmd any) bool {
	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// run is the room's single-goroutine event loop: every mutation of
// members/history/subscribers happens here, so none of it needs a lock
// (spec invariant 1).
func (r *Room) run() {
	defer close(r.done)

	members := make(map[string]struct{})
	subs := make(map[int64]chan bufferpool.Frame)
	history := make([]bufferpool.Frame, 0, r.cfg.HistoryLimit)
	var nextSubID int64
	var empty bool
	var emptySince time.Time

	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()

	broadcast := func(event protocol.ServerEvent) {
		data, err := event.Encode()
		if err != nil {
			// Encoding a ServerEvent we constructed ourselves can only
			// fail due to a programming error, never bad input.
			r.log.Fatal("failed to encode server event", zap.String("room", r.name), zap.Error(err))
			return
		}

		buf := r.pool.Alloc(len(data))
		if _, err := buf.Write(data); err != nil {
			r.log.Fatal("failed to fill pooled buffer", zap.String("room", r.name), zap.Error(err))
			return
		}
		frame := buf.Freeze()

		for id, ch := range subs {
			clone := frame.Clone()
			select {
			case ch <- clone:
			default:
				clone.Release()
				r.reg.MessagesDropped.Inc()
				r.log.Debug("dropped frame for lagging subscriber",
					zap.String("room", r.name), zap.Int64("subscription", id))
			}
		}
		r.reg.MessagesBroadcast.Inc()

		if event.IsNewMessage() {
			// history takes over this function's own reference to frame;
			// nothing further to release here.
			history = append(history, frame)
			if len(history) > r.cfg.HistoryLimit {
				r.reg.HistoryEvictions.Inc()
				history[0].Release()
				history = history[1:]
			}
		} else {
			// Not retained anywhere else: this function's reference is the
			// last one, so release it back to the pool now.
			frame.Release()
		}
	}

	for {
		select {
		case raw := <-r.cmdCh:
			switch cmd := raw.(type) {
			case joinCmd:
				members[cmd.name] = struct{}{}
				empty = false

				nextSubID++
				id := nextSubID
				ch := make(chan bufferpool.Frame, r.cfg.BroadcastQueueSize)
				subs[id] = ch
				cmd.reply <- Subscription{ID: id, Frames: ch}
				r.log.Debug("member joined", zap.String("room", r.name), zap.String("name", cmd.name))

				broadcast(protocol.ServerEvent{UserJoined: &protocol.UserJoinedEvent{Room: r.name, Name: cmd.name}})

			case sendCmd:
				broadcast(cmd.event)

			case leaveCmd:
				if ch, ok := subs[cmd.subID]; ok {
					delete(subs, cmd.subID)
					close(ch)
				}
				if _, present := members[cmd.name]; present {
					delete(members, cmd.name)
					r.log.Debug("member left", zap.String("room", r.name), zap.String("name", cmd.name))
					broadcast(protocol.ServerEvent{UserLeft: &protocol.UserLeftEvent{Room: r.name, Name: cmd.name}})
					if len(members) == 0 {
						empty = true
						emptySince = time.Now()
					}
				}

			case membersCmd:
				names := make([]string, 0, len(members))
				for name := range members {
					names = append(names, name)
				}
				cmd.reply <- names

			case historyCmd:
				// Each returned Frame is its own counted reference; the
				// caller (the Hub, then a Connection Driver replaying
				// history) must Release it once written.
				out := make([]bufferpool.Frame, len(history))
				for i, f := range history {
					out[i] = f.Clone()
				}
				cmd.reply <- out
			}

		case <-sweep.C:
			if empty && time.Since(emptySince) > r.cfg.TTL {
				r.reg.RoomsReaped.Inc()
				r.log.Debug("room reaped after ttl", zap.String("room", r.name))
				for _, ch := range subs {
					close(ch)
				}
				for _, f := range history {
					f.Release()
				}
				return
			}
		}
	}
}
