package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/colabhq/pulse/internal/bus"
	"github.com/colabhq/pulse/internal/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"
)

type StreamHandler struct {
	registry *bus.Registry
}

func NewStreamHandler(registry *bus.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

type frame struct {
	event   string
	payload []byte
}

// sseHandle buffers frames between the bus goroutines and the response
// writer goroutine. A full buffer fails the write instead of blocking the
// fan-out: a slow consumer only hurts itself.
type sseHandle struct {
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEHandle(buffer int) *sseHandle {
	return &sseHandle{
		frames: make(chan frame, buffer),
		done:   make(chan struct{}),
	}
}

func (h *sseHandle) WriteFrame(event string, payload []byte) error {
	select {
	case <-h.done:
		return errors.New("stream closed")
	default:
	}
	select {
	case h.frames <- frame{event: event, payload: payload}:
		return nil
	default:
		return errors.New("stream backlogged")
	}
}

func (h *sseHandle) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// Stream attaches the caller to the push bus over Server-Sent Events. Each
// frame is a named event followed by a JSON payload line and a blank line.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	handle := newSSEHandle(64)
	detach := h.registry.Attach(userID, handle)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer detach()

		// Open the stream immediately so the client sees the connection as
		// healthy before the first real event.
		if _, err := fmt.Fprintf(w, "event: %s\ndata: {\"type\":%q}\n\n", bus.EventHeartbeat, bus.EventHeartbeat); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case f := <-handle.frames:
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.payload); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-handle.done:
				return
			}
		}
	}))

	return nil
}

// wsHandle adapts a WebSocket connection to the bus handle interface. The
// same named frame travels as one JSON object per text message.
type wsHandle struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *wsHandle) WriteFrame(event string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return h.conn.WriteJSON(wsFrame{Event: event, Data: payload})
}

func (h *wsHandle) Close() error {
	return h.conn.Close()
}

// HandleWebSocket attaches a websocket client to the same bus as the SSE
// stream. The read loop only drains client pings; all data flows server to
// client.
func (h *StreamHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		_ = c.Close()
		return
	}

	handle := &wsHandle{conn: c}
	detach := h.registry.Attach(userID, handle)
	defer detach()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			log.Printf("ws read closed user=%d: %v", userID, err)
			return
		}
	}
}
