// Package gateway - outbound.go is the writable end of a client stream.
//
// DESIGN: The pipeline writes frames to an outbound and never learns which
// transport is behind it:
//   - pipeOutbound: SSE frames into an io.Pipe drained by the HTTP handler
//   - wsOutbound:   one WebSocket text message per frame
//
// Writes after the client is gone return an error the pipeline ignores.
package gateway

import (
	"context"
	"io"
	"time"

	"github.com/coder/websocket"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/sse"
)

type outbound interface {
	// Send writes one event payload.
	Send(payload []byte) error
	// Done writes the terminal marker.
	Done() error
	Close() error
}

// =============================================================================
// SSE
// =============================================================================

var (
	ssePrefix = []byte("data: ")
	sseSuffix = []byte("\n\n")
)

type pipeOutbound struct {
	pw *io.PipeWriter
}

func newPipeOutbound(pw *io.PipeWriter) *pipeOutbound {
	return &pipeOutbound{pw: pw}
}

// encodeSSE frames payload as a single SSE data event.
func encodeSSE(payload []byte) []byte {
	frame := make([]byte, 0, len(ssePrefix)+len(payload)+len(sseSuffix))
	frame = append(frame, ssePrefix...)
	frame = append(frame, payload...)
	return append(frame, sseSuffix...)
}

func (o *pipeOutbound) Send(payload []byte) error {
	_, err := o.pw.Write(encodeSSE(payload))
	return err
}

func (o *pipeOutbound) Done() error {
	_, err := o.pw.Write(encodeSSE([]byte(sse.DoneSentinel)))
	return err
}

func (o *pipeOutbound) Close() error {
	return o.pw.Close()
}

// =============================================================================
// WEBSOCKET
// =============================================================================

const wsWriteTimeout = 10 * time.Second

type wsOutbound struct {
	ctx  context.Context
	conn *websocket.Conn
}

func newWSOutbound(ctx context.Context, conn *websocket.Conn) *wsOutbound {
	return &wsOutbound{ctx: ctx, conn: conn}
}

func (o *wsOutbound) write(payload []byte) error {
	ctx, cancel := context.WithTimeout(o.ctx, wsWriteTimeout)
	defer cancel()
	return o.conn.Write(ctx, websocket.MessageText, payload)
}

func (o *wsOutbound) Send(payload []byte) error {
	return o.write(payload)
}

func (o *wsOutbound) Done() error {
	return o.write([]byte(sse.DoneSentinel))
}

func (o *wsOutbound) Close() error {
	return o.conn.Close(websocket.StatusNormalClosure, "")
}
