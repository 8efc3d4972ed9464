package wsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	closeGrace   = 2 * time.Second

	// maxFrameSize leaves room for one chunk plus framing.
	maxFrameSize = 2 * protocol.ChunkSize
)

// ErrClosed is returned by sends after the connection has shut down.
var ErrClosed = errors.New("connection closed")

// Frame is one data message read from the relay.
type Frame struct {
	Binary bool
	Data   []byte
}

type outFrame struct {
	messageType int
	data        []byte
}

// Conn represents a WebSocket connection to the relay.
type Conn struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	sendChan  chan outFrame
	done      chan struct{}
	readDone  chan struct{}
	reading   atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Dial establishes a WebSocket connection to the relay.
// wsURL should be the full WebSocket URL including path and query parameters.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Conn{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan outFrame, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	go c.writeLoop()

	return c, nil
}

// ReadLoop reads frames and calls onFrame for each text or binary message.
// It returns the close code and reason once the connection ends. A connection
// that drops without a close frame reports 1006.
func (c *Conn) ReadLoop(ctx context.Context, onFrame func(Frame)) (int, string) {
	c.reading.Store(true)
	defer close(c.readDone)

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		// Closing the connection forces ReadMessage() to unblock instantly
		c.conn.Close()
	}()

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			if ctx.Err() == nil {
				c.logger.Warn("websocket read error", "error", err)
			}
			return websocket.CloseAbnormalClosure, ""
		}

		switch messageType {
		case websocket.TextMessage:
			onFrame(Frame{Data: message})
		case websocket.BinaryMessage:
			onFrame(Frame{Binary: true, Data: message})
		}
	}
}

// SendControl encodes msg and queues it as a text frame.
func (c *Conn) SendControl(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{messageType: websocket.TextMessage, data: data})
}

// SendBinary queues data as one binary frame. The slice must not be modified afterwards.
func (c *Conn) SendBinary(data []byte) error {
	return c.enqueue(outFrame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Conn) enqueue(f outFrame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.sendChan <- f:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// writeLoop handles serialized writes to the WebSocket connection. It exits
// after writing a close frame or on the first write error.
func (c *Conn) writeLoop() {
	defer close(c.done)
	for f := range c.sendChan {
		c.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		var err error
		if f.messageType == websocket.CloseMessage {
			err = c.conn.WriteControl(websocket.CloseMessage, f.data, deadline)
		} else {
			c.conn.SetWriteDeadline(deadline)
			err = c.conn.WriteMessage(f.messageType, f.data)
		}
		c.writeMu.Unlock()
		if f.messageType == websocket.CloseMessage {
			if err != nil {
				c.logger.Debug("websocket close frame not sent", "error", err)
			}
			return
		}
		if err != nil {
			c.logger.Error("websocket write error", "error", err)
			return
		}
	}
}

// maxCloseReason is what fits in a control frame after the two byte code.
const maxCloseReason = 123

// trimCloseReason cuts reason to fit a close frame without splitting a rune;
// peers reject close text that is not valid UTF-8.
func trimCloseReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return strings.ToValidUTF8(reason[:maxCloseReason], "")
}

// Close sends a close frame with code and reason after every queued frame,
// then closes the connection. Only the first call has an effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.enqueue(outFrame{messageType: websocket.CloseMessage, data: websocket.FormatCloseMessage(code, trimCloseReason(reason))})
		<-c.done
		// Let the relay answer the close frame so nothing it sent is reset.
		if c.reading.Load() {
			select {
			case <-c.readDone:
			case <-time.After(closeGrace):
			}
		}
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
