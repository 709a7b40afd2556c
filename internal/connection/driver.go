// Package connection implements the per-socket protocol driver: the
// state machine that moves a connection through PRE-JOIN, JOINED and
// CLOSED, translating wire frames into Hub commands and Hub/Room events
// back into wire frames (spec §4.4).
package connection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adred/chatserver/internal/bufferpool"
	"github.com/adred/chatserver/internal/hub"
	"github.com/adred/chatserver/internal/metrics"
	"github.com/adred/chatserver/internal/protocol"
)

// Transport is the minimal bidirectional text-frame contract a
// Connection Driver needs from its transport. Spec §1/§6 treat the
// actual WebSocket framing as an external collaborator; this interface
// is the seam between that collaborator and the protocol driver, which
// lets the driver's state machine be tested without a real socket.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	WriteClose() error
	Close() error
}

// Driver drives one connection's PRE-JOIN → JOINED → CLOSED state
// machine. It guarantees single-writer discipline on the transport:
// pre-join replies and the history replay are written by Run's own
// goroutine before the push loop starts; from then on only the push
// loop calls Transport.WriteMessage, and the command loop routes
// unicast replies through the mailbox instead of writing directly
// (spec §4.4, design note in §9).
type Driver struct {
	id        string
	transport Transport
	hub       *hub.Hub
	log       *zap.Logger
	reg       *metrics.Registry

	mailboxSize int
}

// New creates a Driver for one accepted connection.
func New(transport Transport, h *hub.Hub, log *zap.Logger, reg *metrics.Registry, mailboxSize int) *Driver {
	return &Driver{
		id:          uuid.NewString(),
		transport:   transport,
		hub:         h,
		log:         log.With(zap.String("connection", uuid.NewString())),
		reg:         reg,
		mailboxSize: mailboxSize,
	}
}

// Run drives the connection until it closes, either by client request,
// transport EOF, or a transport/decode error. It always closes the
// transport before returning.
func (d *Driver) Run(ctx context.Context) {
	defer d.transport.Close()

	room, name, ok := d.preJoin(ctx)
	if !ok {
		return
	}
	d.joined(ctx, room, name)
}

// preJoin services RoomList requests inline and waits for a Join to
// transition into JOINED. Any other request is ignored; transport EOF
// or a decode error terminates the connection (spec §4.4 PRE-JOIN
// rules, §7).
func (d *Driver) preJoin(ctx context.Context) (roomName, name string, ok bool) {
	for {
		raw, err := d.transport.ReadMessage()
		if err != nil {
			return "", "", false
		}

		req, err := protocol.DecodeClientRequest(raw)
		if err != nil {
			d.reg.DecodeErrors.Inc()
			d.log.Debug("decode error in pre-join, closing connection", zap.Error(err))
			return "", "", false
		}

		switch {
		case req.Join != nil:
			return req.Join.Room, req.Join.Name, true
		case req.RoomList:
			names := d.hub.RoomList(ctx)
			if err := d.writeEvent(protocol.ServerEvent{RoomList: &protocol.RoomListEvent{Rooms: names}}); err != nil {
				return "", "", false
			}
		default:
			// Message/Leave/Members before a Join: ignored.
		}
	}
}

// joined runs the JOINED-state entry steps and both loops described in
// spec §4.4: subscribe, replay history, then run the push loop and
// command loop concurrently until either exits.
func (d *Driver) joined(ctx context.Context, roomName, name string) {
	sub, ok := d.hub.Join(ctx, roomName, name)
	if !ok {
		return
	}

	for _, frame := range d.hub.History(ctx, roomName) {
		err := d.transport.WriteMessage(frame.Bytes())
		frame.Release()
		if err != nil {
			d.log.Debug("write error replaying history", zap.Error(err))
			d.hub.Leave(ctx, roomName, name, sub.ID)
			return
		}
	}

	mailbox := make(chan bufferpool.Frame, d.mailboxSize)
	closeSignal := make(chan struct{})
	pushDone := make(chan struct{})

	go d.pushLoop(sub.Frames, mailbox, closeSignal, pushDone)

	d.commandLoop(ctx, roomName, name, sub.ID, mailbox, closeSignal)

	<-pushDone
}

// pushLoop is the only writer to the transport once it has started. It
// multiplexes live broadcast frames and unicast mailbox replies, and
// flushes a final close frame once signalled to stop.
func (d *Driver) pushLoop(frames <-chan bufferpool.Frame, mailbox <-chan bufferpool.Frame, closeSignal <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// Room exited (TTL reap) while this connection was
				// still subscribed; end the connection.
				_ = d.transport.WriteClose()
				return
			}
			err := d.transport.WriteMessage(frame.Bytes())
			frame.Release()
			if err != nil {
				d.log.Debug("transport write error, closing connection", zap.Error(err))
				return
			}

		case frame := <-mailbox:
			err := d.transport.WriteMessage(frame.Bytes())
			frame.Release()
			if err != nil {
				d.log.Debug("transport write error, closing connection", zap.Error(err))
				return
			}

		case <-closeSignal:
			_ = d.transport.WriteClose()
			return
		}
	}
}

// commandLoop reads further ClientRequests once JOINED. It never writes
// to the transport directly; unicast replies go through mailbox so they
// interleave correctly with broadcast frames (spec §4.4 step 4).
func (d *Driver) commandLoop(ctx context.Context, roomName, name string, subID int64, mailbox chan<- bufferpool.Frame, closeSignal chan struct{}) {
	defer func() {
		d.hub.Leave(ctx, roomName, name, subID)
		close(closeSignal)
	}()

	for {
		raw, err := d.transport.ReadMessage()
		if err != nil {
			return
		}

		req, err := protocol.DecodeClientRequest(raw)
		if err != nil {
			d.reg.DecodeErrors.Inc()
			d.log.Debug("decode error, closing connection", zap.Error(err))
			return
		}

		switch {
		case req.Message != nil:
			ts := uint64(time.Now().UnixMilli())
			d.hub.Send(ctx, roomName, protocol.ServerEvent{
				NewMessage: &protocol.NewMessageEvent{Room: roomName, Name: name, Text: req.Message.Text, Ts: ts},
			})

		case req.Members != nil:
			members := d.hub.Members(ctx, roomName)
			data, err := protocol.ServerEvent{MemberList: &protocol.MemberListEvent{Room: roomName, Members: members}}.Encode()
			if err != nil {
				d.log.Fatal("failed to encode MemberList reply", zap.Error(err))
				return
			}
			select {
			case mailbox <- bufferpool.NewFrame(data):
			case <-closeSignal:
				return
			}

		case req.Leave != nil:
			return

		case req.Join != nil, req.RoomList:
			// Ignored once JOINED (spec §9 Open Question).

		default:
			// Unreachable: DecodeClientRequest never returns an empty ClientRequest.
		}
	}
}

// writeEvent is used only in PRE-JOIN, before the push loop exists, so
// a direct transport write does not violate single-writer discipline.
func (d *Driver) writeEvent(event protocol.ServerEvent) error {
	data, err := event.Encode()
	if err != nil {
		d.log.Fatal("failed to encode pre-join reply", zap.Error(err))
		return err
	}
	return d.transport.WriteMessage(data)
}
