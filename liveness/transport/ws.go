package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

const (
	wsWriteTimeout = 3 * time.Second
)

// wsClient buffers events for one websocket connection. The bus dispatcher
// never waits on a slow client: events that do not fit are dropped.
type wsClient struct {
	conn    *websocket.Conn
	buf     chan liveness.Event
	dropped atomic.Int64
	logger  *log.Logger
}

func newWSClient(conn *websocket.Conn, size int, logger *log.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		buf:    make(chan liveness.Event, size),
		logger: logger,
	}
}

func (w *wsClient) enqueue(ctx context.Context, ev liveness.Event) error {
	select {
	case w.buf <- ev:
	default:
		w.dropped.Add(1)
		wsEventsDropped.Add(ctx, 1)
		w.logger.Warn("Websocket client behind, event dropped",
			log.StreamID(ev.StreamID),
			log.String("eventId", ev.ID))
	}
	return nil
}

// writeLoop sends buffered events until ctx is done or a write fails.
func (w *wsClient) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.buf:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, w.conn, ev)
			cancel()
			if err != nil {
				return err
			}
			wsEventsSent.Add(ctx, 1)
		}
	}
}

func (r *Router) streamEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: r.allowedOrigins,
	})
	if err != nil {
		r.logger.Warn("WebSocket open failed",
			log.String("remote_addr", c.Request.RemoteAddr),
			log.Error(err))
		return
	}

	logger := r.logger.Module("ws")
	client := newWSClient(conn, r.cfg.WSBuffer, logger)
	sub := r.events.Subscribe("ws:"+c.Request.RemoteAddr, client.enqueue)
	wsClients.Add(c.Request.Context(), 1)

	logger.Info("WebSocket event client connected",
		log.String("remote_addr", c.Request.RemoteAddr))

	// clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away
	ctx, cancel := context.WithCancel(conn.CloseRead(c.Request.Context()))
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	err = client.writeLoop(ctx)

	r.events.Unsubscribe(sub)
	wsClients.Add(context.Background(), -1)

	switch {
	case r.ctx.Err() != nil:
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case ctx.Err() != nil:
		_ = conn.CloseNow()
	default:
		_ = conn.Close(websocket.StatusInternalError, "write failed")
	}
	logger.Info("WebSocket event client disconnected",
		log.String("remote_addr", c.Request.RemoteAddr),
		log.Int64("dropped", client.dropped.Load()),
		log.Error(err))
}
