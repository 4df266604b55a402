package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/internal/validation"
	"github.com/imtaco/stream-liveness/liveness"
	"github.com/imtaco/stream-liveness/liveness/eventbus"
)

type Config struct {
	// RefreshDebounce is the minimum gap between two refreshes of one stream
	// triggered by stale queries.
	RefreshDebounce time.Duration `mapstructure:"refresh_debounce" validate:"gt=0"`
	DebounceSize    int           `mapstructure:"debounce_size" validate:"gt=0"`
	WSBuffer        int           `mapstructure:"ws_buffer" validate:"gt=0"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("refresh_debounce"), "2s")
	v.SetDefault(p("debounce_size"), 1024)
	v.SetDefault(p("ws_buffer"), 32)
}

// EventSource is the subscription side of the event bus.
type EventSource interface {
	Subscribe(name string, handler eventbus.Handler) *eventbus.Subscription
	Unsubscribe(sub *eventbus.Subscription) bool
}

type Router struct {
	cfg            Config
	staleAfter     time.Duration
	allowedOrigins []string

	reader  liveness.Reader
	streams liveness.StreamController
	events  EventSource

	debounceMu sync.Mutex
	debounce   *expirable.LRU[string, struct{}]

	// ctx ends every websocket stream on Close
	ctx    context.Context
	cancel context.CancelFunc

	engine *gin.Engine
	logger *log.Logger
}

func NewRouter(
	cfg Config,
	staleAfter time.Duration,
	allowedOrigins []string,
	reader liveness.Reader,
	streams liveness.StreamController,
	events EventSource,
	logger *log.Logger,
) *Router {
	if logger == nil {
		panic("logger is required")
	}
	if cfg.DebounceSize <= 0 {
		cfg.DebounceSize = 1024
	}
	if cfg.WSBuffer <= 0 {
		cfg.WSBuffer = 32
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("stream-liveness"))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		ctx:            ctx,
		cancel:         cancel,
		cfg:            cfg,
		staleAfter:     staleAfter,
		allowedOrigins: allowedOrigins,
		reader:         reader,
		streams:        streams,
		events:         events,
		debounce:       expirable.NewLRU[string, struct{}](cfg.DebounceSize, nil, cfg.RefreshDebounce),
		engine:         engine,
		logger:         logger,
	}

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

// Close disconnects websocket clients. Hijacked connections are not covered
// by http.Server.Shutdown.
func (r *Router) Close() {
	r.cancel()
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	api := r.engine.Group("/api")
	api.GET("/streams", r.listStreams)
	api.GET("/streams/:streamId", r.getStream)
	api.POST("/streams", r.addStream)
	api.DELETE("/streams/:streamId", r.removeStream)
	api.GET("/live", r.anyLive)

	r.engine.GET("/ws/events", r.streamEvents)
}

// StreamStatus is a record as seen by UI code. AssumeOffline is set when the
// state is unknown or older than the staleness threshold.
type StreamStatus struct {
	liveness.Record
	Live          bool     `json:"live"`
	AgeSeconds    *float64 `json:"ageSeconds"`
	Stale         bool     `json:"stale"`
	AssumeOffline bool     `json:"assumeOffline"`
}

func (r *Router) status(rec liveness.Record, stale bool) StreamStatus {
	st := StreamStatus{
		Record:        rec,
		Stale:         stale,
		AssumeOffline: stale || !rec.State.IsKnown(),
	}
	st.Live = rec.IsLive() && !st.AssumeOffline
	if age := r.reader.Age(rec); age >= 0 {
		secs := age.Seconds()
		st.AgeSeconds = &secs
	}
	return st
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (r *Router) listStreams(c *gin.Context) {
	ids := r.streams.Streams()
	out := make([]StreamStatus, 0, len(ids))
	for _, id := range ids {
		rec, _ := r.reader.Current(id)
		out = append(out, r.status(rec, r.reader.IsStale(id, r.staleAfter)))
	}
	c.JSON(http.StatusOK, gin.H{
		"streams": out,
	})
}

func (r *Router) getStream(c *gin.Context) {
	var req StreamURIRequest
	if err := c.ShouldBindUri(&req); err != nil {
		badRequest(c, err)
		return
	}
	queries.Add(c.Request.Context(), 1)

	if !r.streams.Has(req.StreamID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "stream not monitored",
		})
		return
	}
	// not polled yet reads as unknown and stale
	rec, _ := r.reader.Current(req.StreamID)

	stale := r.reader.IsStale(req.StreamID, r.staleAfter)
	if stale {
		staleQueries.Add(c.Request.Context(), 1)
		r.refreshDebounced(c.Request.Context(), req.StreamID)
	}

	c.JSON(http.StatusOK, r.status(rec, stale))
}

// refreshDebounced asks the poll loop for an immediate poll, at most once per
// RefreshDebounce for each stream.
func (r *Router) refreshDebounced(ctx context.Context, streamID string) {
	r.debounceMu.Lock()
	if r.debounce.Contains(streamID) {
		r.debounceMu.Unlock()
		return
	}
	r.debounce.Add(streamID, struct{}{})
	r.debounceMu.Unlock()

	if r.streams.Refresh(streamID) {
		refreshTriggered.Add(ctx, 1)
		r.logger.Debug("Refresh requested by stale query", log.StreamID(streamID))
	}
}

func (r *Router) addStream(c *gin.Context) {
	var req AddStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if !r.streams.AddStream(req.StreamID) {
		c.JSON(http.StatusOK, gin.H{
			"streamId": req.StreamID,
			"created":  false,
		})
		return
	}

	streamsAdded.Add(c.Request.Context(), 1)
	r.logger.Info("Stream added via API", log.StreamID(req.StreamID))
	c.JSON(http.StatusCreated, gin.H{
		"streamId": req.StreamID,
		"created":  true,
	})
}

func (r *Router) removeStream(c *gin.Context) {
	var req StreamURIRequest
	if err := c.ShouldBindUri(&req); err != nil {
		badRequest(c, err)
		return
	}

	if !r.streams.RemoveStream(req.StreamID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "stream not monitored",
		})
		return
	}

	r.debounceMu.Lock()
	r.debounce.Remove(req.StreamID)
	r.debounceMu.Unlock()

	streamsRemoved.Add(c.Request.Context(), 1)
	r.logger.Info("Stream removed via API", log.StreamID(req.StreamID))
	c.Status(http.StatusNoContent)
}

func (r *Router) anyLive(c *gin.Context) {
	live := r.reader.Live()
	if live == nil {
		live = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"anyLive": len(live) > 0,
		"live":    live,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Validation failed",
		"details": validation.FormatValidationError(err),
	})
}
