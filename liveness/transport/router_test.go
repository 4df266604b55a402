package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
	"github.com/imtaco/stream-liveness/liveness/cache"
	"github.com/imtaco/stream-liveness/liveness/eventbus"
	"github.com/imtaco/stream-liveness/liveness/mocks"
	"github.com/imtaco/stream-liveness/liveness/transport"
)

const staleAfter = 15 * time.Second

// notifyingSource wraps the bus and reports subscription changes.
type notifyingSource struct {
	*eventbus.Bus
	subscribed   chan struct{}
	unsubscribed chan struct{}
}

func (n *notifyingSource) Subscribe(name string, h eventbus.Handler) *eventbus.Subscription {
	sub := n.Bus.Subscribe(name, h)
	n.subscribed <- struct{}{}
	return sub
}

func (n *notifyingSource) Unsubscribe(sub *eventbus.Subscription) bool {
	ok := n.Bus.Unsubscribe(sub)
	n.unsubscribed <- struct{}{}
	return ok
}

type RouterSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	streams *mocks.MockStreamController
	clock   *clockwork.FakeClock
	cache   *cache.Cache
	bus     *eventbus.Bus
	source  *notifyingSource
	router  *transport.Router
	seq     uint64
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.ctrl = gomock.NewController(s.T())
	s.streams = mocks.NewMockStreamController(s.ctrl)
	s.clock = clockwork.NewFakeClock()
	s.cache = cache.New(s.clock)
	s.bus = eventbus.New(eventbus.Config{QueueSize: 8, HandlerTimeout: time.Second}, log.NewTest(s.T()))
	s.source = &notifyingSource{
		Bus:          s.bus,
		subscribed:   make(chan struct{}, 1),
		unsubscribed: make(chan struct{}, 1),
	}
	s.router = transport.NewRouter(transport.Config{
		RefreshDebounce: time.Minute,
		DebounceSize:    16,
		WSBuffer:        4,
	}, staleAfter, []string{"*"}, s.cache, s.streams, s.source, log.NewTest(s.T()))
}

func (s *RouterSuite) TearDownTest() {
	s.router.Close()
	_ = s.bus.Close(context.Background())
}

func (s *RouterSuite) observe(id string, state liveness.State, err error) {
	s.cache.Track(id)
	s.seq++
	s.cache.Update(id, liveness.Observation{Seq: s.seq, State: state, Err: err})
}

func (s *RouterSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *RouterSuite) TestHealthCheck() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"status": "ok"}`, w.Body.String())
}

func (s *RouterSuite) TestGetStreamFresh() {
	s.observe("cam-1", liveness.StateLive, nil)
	s.clock.Advance(2 * time.Second)
	s.streams.EXPECT().Has("cam-1").Return(true)

	w := s.do(http.MethodGet, "/api/streams/cam-1", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var st transport.StreamStatus
	s.decode(w, &st)
	s.Equal("cam-1", st.StreamID)
	s.Equal(liveness.StateLive, st.State)
	s.True(st.Live)
	s.False(st.Stale)
	s.False(st.AssumeOffline)
	s.Require().NotNil(st.AgeSeconds)
	s.InDelta(2.0, *st.AgeSeconds, 0.001)
}

func (s *RouterSuite) TestGetStreamStaleTriggersDebouncedRefresh() {
	s.observe("cam-1", liveness.StateLive, nil)
	s.clock.Advance(staleAfter + time.Second)

	s.streams.EXPECT().Has("cam-1").Return(true).Times(2)
	// second stale query inside the debounce window does not refresh again
	s.streams.EXPECT().Refresh("cam-1").Return(true).Times(1)

	for range 2 {
		w := s.do(http.MethodGet, "/api/streams/cam-1", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var st transport.StreamStatus
		s.decode(w, &st)
		s.True(st.Stale)
		s.True(st.AssumeOffline)
		s.False(st.Live)
		s.Equal(liveness.StateLive, st.State)
	}
}

func (s *RouterSuite) TestGetStreamNeverPolled() {
	s.cache.Track("cam-2")
	s.streams.EXPECT().Has("cam-2").Return(true)
	s.streams.EXPECT().Refresh("cam-2").Return(true)

	w := s.do(http.MethodGet, "/api/streams/cam-2", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var st transport.StreamStatus
	s.decode(w, &st)
	s.Equal(liveness.StateUnknown, st.State)
	s.True(st.AssumeOffline)
	s.Nil(st.AgeSeconds)
}

func (s *RouterSuite) TestGetStreamNotMonitored() {
	s.streams.EXPECT().Has("ghost").Return(false)

	w := s.do(http.MethodGet, "/api/streams/ghost", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterSuite) TestGetStreamInvalidID() {
	w := s.do(http.MethodGet, "/api/streams/bad%20id", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestListStreams() {
	s.observe("a", liveness.StateLive, nil)
	s.observe("b", liveness.StateOffline, nil)
	s.streams.EXPECT().Streams().Return([]string{"a", "b"})

	w := s.do(http.MethodGet, "/api/streams", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		Streams []transport.StreamStatus `json:"streams"`
	}
	s.decode(w, &resp)
	s.Require().Len(resp.Streams, 2)
	s.True(resp.Streams[0].Live)
	s.False(resp.Streams[1].Live)
	s.False(resp.Streams[1].AssumeOffline)
}

func (s *RouterSuite) TestAddStream() {
	gomock.InOrder(
		s.streams.EXPECT().AddStream("cam-9").Return(true),
		s.streams.EXPECT().AddStream("cam-9").Return(false),
	)

	w := s.do(http.MethodPost, "/api/streams", map[string]string{"streamId": "cam-9"})
	s.Equal(http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/streams", map[string]string{"streamId": "cam-9"})
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterSuite) TestAddStreamValidation() {
	w := s.do(http.MethodPost, "/api/streams", map[string]string{})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/streams", map[string]string{"streamId": "no/slash"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestRemoveStream() {
	gomock.InOrder(
		s.streams.EXPECT().RemoveStream("cam-1").Return(true),
		s.streams.EXPECT().RemoveStream("cam-1").Return(false),
	)

	w := s.do(http.MethodDelete, "/api/streams/cam-1", nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodDelete, "/api/streams/cam-1", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterSuite) TestAnyLive() {
	w := s.do(http.MethodGet, "/api/live", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"anyLive": false, "live": []}`, w.Body.String())

	s.observe("b", liveness.StateLive, nil)
	s.observe("a", liveness.StateLive, nil)
	s.observe("c", liveness.StateOffline, nil)

	w = s.do(http.MethodGet, "/api/live", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"anyLive": true, "live": ["a", "b"]}`, w.Body.String())
}

func (s *RouterSuite) waitSignal(ch <-chan struct{}) {
	s.T().Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		s.FailNow("timed out")
	}
}

func (s *RouterSuite) TestWebSocketEvents() {
	srv := httptest.NewServer(s.router.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	s.Require().NoError(err)

	s.waitSignal(s.source.subscribed)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sent := []liveness.Event{
		liveness.NewEvent("cam-1", liveness.StateUnknown, liveness.StateLive, ts),
		liveness.NewEvent("cam-1", liveness.StateLive, liveness.StateOffline, ts.Add(time.Second)),
	}
	for _, ev := range sent {
		s.Require().NoError(s.bus.Publish(ctx, ev))
	}

	for _, want := range sent {
		var got liveness.Event
		s.Require().NoError(wsjson.Read(ctx, conn, &got))
		s.Equal(want.ID, got.ID)
		s.Equal(want.Previous, got.Previous)
		s.Equal(want.Current, got.Current)
		s.True(want.Timestamp.Equal(got.Timestamp))
	}

	s.Require().NoError(conn.Close(websocket.StatusNormalClosure, ""))
	s.waitSignal(s.source.unsubscribed)
}

func (s *RouterSuite) TestWebSocketClosedOnRouterClose() {
	srv := httptest.NewServer(s.router.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	s.Require().NoError(err)
	defer conn.CloseNow()

	s.waitSignal(s.source.subscribed)
	s.router.Close()
	s.waitSignal(s.source.unsubscribed)

	var ev liveness.Event
	err = wsjson.Read(ctx, conn, &ev)
	s.Equal(websocket.StatusGoingAway, websocket.CloseStatus(err))
}
