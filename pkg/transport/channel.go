// Package transport owns the duplex WebSocket connection to the chat
// orchestrator.
//
// A Channel is opened once and never re-dialed; reconnecting is the
// supervisor's job. Inbound traffic is delivered on a single ordered stream
// of Events: EventOpened first, then one EventFrame per message in arrival
// order, then exactly one EventClosed. Close is never reordered ahead of a
// frame that was already read off the socket, because a single goroutine
// performs every read and every emit.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/chatstream/pkg/version"
)

// ErrNotConnected is returned by Send when the channel is closed.
// Callers decide whether to queue or drop; the engine drops.
var ErrNotConnected = errors.New("transport: not connected")

// eventBuffer bounds how far the reader may run ahead of the consumer.
// The reader blocks when full, so frames are never dropped.
const eventBuffer = 256

// EventKind classifies an inbound transport event.
type EventKind int

const (
	// EventOpened is emitted once, before any frame.
	EventOpened EventKind = iota
	// EventFrame carries one inbound message.
	EventFrame
	// EventClosed is emitted once, last. Err is nil for a clean close.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one item of the inbound stream.
type Event struct {
	Kind EventKind
	Data []byte // EventFrame only
	Err  error  // EventClosed only; nil on clean close
}

// Options configure Open.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Header       http.Header
}

// Channel is a single open WebSocket connection.
type Channel struct {
	url          string
	conn         *websocket.Conn
	writeTimeout time.Duration
	events       chan Event

	ctx    context.Context
	cancel context.CancelFunc

	closed     atomic.Bool
	closing    atomic.Bool
	closeOnce  sync.Once
	readerDone chan struct{}
	log        *slog.Logger
}

// Open dials rawURL and starts the reader goroutine.
func Open(ctx context.Context, rawURL string, opts Options) (*Channel, error) {
	wsURL, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = v
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	chCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		url:          wsURL,
		conn:         conn,
		writeTimeout: writeTimeout,
		events:       make(chan Event, eventBuffer),
		ctx:          chCtx,
		cancel:       cancel,
		readerDone:   make(chan struct{}),
		log:          slog.With("component", "transport", "url", wsURL),
	}

	go c.readLoop()

	return c, nil
}

// Events returns the ordered inbound stream. It is closed after EventClosed.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// URL returns the normalized endpoint this channel is connected to.
func (c *Channel) URL() string {
	return c.url
}

// Send writes one text frame. It returns ErrNotConnected once the channel
// has closed, whichever side closed it.
func (c *Channel) Send(ctx context.Context, frame []byte) error {
	if c.closed.Load() || c.closing.Load() {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		if c.closed.Load() {
			return ErrNotConnected
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close performs a normal closure handshake. Safe to call multiple times.
// The EventClosed event reports a nil error for a locally initiated close.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		peerClosed := c.closed.Load()
		c.closing.Store(true)
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
		<-c.readerDone
		if peerClosed {
			// The peer already ended the connection; nothing left to report.
			err = nil
		}
	})
	return err
}

// readLoop is the only goroutine that reads from the connection and the only
// one that writes to c.events.
func (c *Channel) readLoop() {
	defer close(c.readerDone)
	defer close(c.events)

	c.events <- Event{Kind: EventOpened}

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.closed.Store(true)
			c.events <- Event{Kind: EventClosed, Err: c.closeCause(err)}
			return
		}
		c.events <- Event{Kind: EventFrame, Data: data}
	}
}

// closeCause maps a terminal read error to the error reported on EventClosed.
func (c *Channel) closeCause(err error) error {
	if c.closing.Load() {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	c.log.Warn("WebSocket read failed", "error", err)
	return err
}

// NormalizeURL rewrites http(s) to ws(s) and rejects other schemes.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
