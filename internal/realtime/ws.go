package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// WSDialer dials the backend's websocket endpoint and completes the
// handshake by waiting for the initial connected frame.
type WSDialer struct {
	// BackendURL is the backend base URL, http(s) scheme.
	BackendURL string
	// PathPrefix is the mount point of the chat API, e.g. "/chat".
	PathPrefix string
	// HandshakeTimeout bounds the dial plus the wait for the connected
	// frame. Zero means DefaultRequestTimeout.
	HandshakeTimeout time.Duration
}

// Dial implements Dialer over gorilla/websocket.
func (d *WSDialer) Dial(ctx context.Context, token string) (Transport, string, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, "", err
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, "", fmt.Errorf("websocket dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, "", fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}

	transport := newWSTransport(conn)

	// The server's first frame announces the connection id; anything else
	// is a protocol violation.
	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)
	frame, err := transport.ReadFrame()
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("websocket handshake: %w", err)
	}
	if frame.Kind != message.FrameEvent || frame.Event != constants.EventConnected {
		conn.Close()
		return nil, "", fmt.Errorf("websocket handshake: unexpected frame %q/%q", frame.Kind, frame.Event)
	}
	var hello message.ConnectedEvent
	if err := util.UnmarshalJSON(frame.Data, &hello); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("websocket handshake: %w", err)
	}
	if hello.ConnectionID == "" {
		conn.Close()
		return nil, "", fmt.Errorf("websocket handshake: missing connection id")
	}

	transport.startKeepalive()
	return transport, hello.ConnectionID, nil
}

func (d *WSDialer) endpoint() (string, error) {
	u, err := url.Parse(d.BackendURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL %q: %w", d.BackendURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid backend URL scheme %q", u.Scheme)
	}
	prefix := d.PathPrefix
	if prefix == "" {
		prefix = constants.DefaultPathPrefix
	}
	u.Path = strings.TrimRight(u.Path, "/") + prefix + "/ws"
	return u.String(), nil
}

// wsTransport adapts one gorilla websocket connection to the Transport
// interface. Reads happen on the caller's single goroutine; writes are
// serialized with a mutex because invokes and typing signals come from
// different goroutines.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(constants.DefaultMaxMessageSize)
	return &wsTransport{
		conn: conn,
		done: make(chan struct{}),
	}
}

// startKeepalive arms the read deadline and the client-side ping loop.
// Called once the handshake completed.
func (t *wsTransport) startKeepalive() {
	t.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(constants.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.writeMu.Lock()
				err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.WriteWait))
				t.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-t.done:
				return
			}
		}
	}()
}

func (t *wsTransport) ReadFrame() (*message.Frame, error) {
	var frame message.Frame
	if err := t.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	t.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	return &frame, nil
}

func (t *wsTransport) WriteFrame(frame *message.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
	return t.conn.WriteJSON(frame)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(constants.WriteWait))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
