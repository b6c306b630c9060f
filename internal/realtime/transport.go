package realtime

import (
	"context"

	"github.com/Waito3007/SHNGear-sub002/internal/message"
)

// Transport is one established bidirectional frame stream. Implementations
// must support one concurrent reader and one concurrent writer; ReadFrame
// returns an error once the stream is lost.
type Transport interface {
	ReadFrame() (*message.Frame, error)
	WriteFrame(frame *message.Frame) error
	Close() error
}

// Dialer performs the connection handshake and returns an established
// transport together with the server-assigned connection id.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, string, error)
}
