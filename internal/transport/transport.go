// Package transport implements the TCP/WebSocket Listener: it accepts
// connections, performs the WebSocket upgrade, and hands each accepted
// socket to a connection.Driver as a connection.Transport (spec §4.5).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/adred/chatserver/internal/config"
	"github.com/adred/chatserver/internal/connection"
	"github.com/adred/chatserver/internal/hub"
	"github.com/adred/chatserver/internal/metrics"
)

// Listener binds a TCP address and upgrades every accepted connection to
// a WebSocket, spawning a connection.Driver per socket.
type Listener struct {
	cfg config.ServerConfig
	hub *hub.Hub
	reg *metrics.Registry
	log *zap.Logger

	mailboxSize int

	ln net.Listener
	wg sync.WaitGroup
}

// New creates a Listener. It does not bind until Start is called.
func New(cfg config.ServerConfig, h *hub.Hub, reg *metrics.Registry, log *zap.Logger, mailboxSize int) *Listener {
	return &Listener{cfg: cfg, hub: h, reg: reg, log: log, mailboxSize: mailboxSize}
}

// Start binds cfg.Addr and begins accepting connections in the
// background. Call Stop to unbind and wait for in-flight connections to
// drain.
func (l *Listener) Start(ctx context.Context) error {
	if l.ln != nil {
		return errors.New("transport: listener already started")
	}

	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.cfg.Addr, err)
	}
	l.ln = ln
	l.log.Info("listening", zap.String("addr", l.cfg.Addr))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptLoop(ctx)
	}()
	return nil
}

// Stop closes the listener and waits for all accepted connections'
// goroutines to finish.
func (l *Listener) Stop() {
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.wg.Wait()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			l.log.Error("accept error", zap.Error(err))
			return
		}

		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			l.handle(ctx, c)
		}(conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	if l.cfg.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(l.cfg.HandshakeTimeout)); err != nil {
			l.log.Debug("set handshake deadline", zap.Error(err))
		}
	}

	if _, err := ws.Upgrade(conn); err != nil {
		l.log.Debug("websocket upgrade failed", zap.Error(err))
		conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	l.reg.ConnectionsActive.Inc()
	defer l.reg.ConnectionsActive.Dec()

	driver := connection.New(&wsTransport{conn: conn}, l.hub, l.log, l.reg, l.mailboxSize)
	driver.Run(ctx)
}

// wsTransport adapts a net.Conn already upgraded to WebSocket into the
// connection.Transport contract, framing every message as a single
// text-opcode WebSocket frame (spec §6: the wire protocol is JSON text).
type wsTransport struct {
	conn   net.Conn
	reader *wsutil.Reader
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	if t.reader == nil {
		t.reader = wsutil.NewReader(t.conn, ws.StateServerSide)
	}

	for {
		head, err := t.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		switch head.OpCode {
		case ws.OpClose:
			return nil, io.EOF
		case ws.OpPing:
			if err := wsutil.WriteServerMessage(t.conn, ws.OpPong, nil); err != nil {
				return nil, err
			}
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(t.reader, payload); err != nil {
				return nil, err
			}
			return payload, nil
		default:
			if _, err := io.CopyN(io.Discard, t.reader, int64(head.Length)); err != nil {
				return nil, err
			}
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return wsutil.WriteServerMessage(t.conn, ws.OpText, data)
}

func (t *wsTransport) WriteClose() error {
	return wsutil.WriteServerMessage(t.conn, ws.OpClose, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
