package sinks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

type WebhookSinkTestSuite struct {
	suite.Suite
	mu       sync.Mutex
	received map[string][]liveness.Event
}

func TestWebhookSinkSuite(t *testing.T) {
	suite.Run(t, new(WebhookSinkTestSuite))
}

func (s *WebhookSinkTestSuite) SetupTest() {
	s.received = make(map[string][]liveness.Event)
}

func (s *WebhookSinkTestSuite) server(name string, code int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev liveness.Event
		if err := json.Unmarshal(body, &ev); err == nil {
			s.mu.Lock()
			s.received[name] = append(s.received[name], ev)
			s.mu.Unlock()
		}
		s.Equal(ev.ID, r.Header.Get("X-Liveness-Event"))
		w.WriteHeader(code)
	}))
	s.T().Cleanup(srv.Close)
	return srv
}

func (s *WebhookSinkTestSuite) TestFanOut() {
	a := s.server("a", http.StatusOK)
	b := s.server("b", http.StatusNoContent)

	sink := NewWebhookSink(WebhookConfig{URLs: []string{a.URL, b.URL}, Timeout: time.Second}, log.NewTest(s.T()))
	s.True(sink.Enabled())

	ev := liveness.NewEvent("cam-1", liveness.StateLive, liveness.StateOffline, time.Now().UTC())
	s.Require().NoError(sink.Handle(context.Background(), ev))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{"a", "b"} {
		s.Require().Len(s.received[name], 1)
		got := s.received[name][0]
		s.Equal(ev.ID, got.ID)
		s.Equal(liveness.StateLive, got.Previous)
		s.Equal(liveness.StateOffline, got.Current)
	}
}

func (s *WebhookSinkTestSuite) TestNon2xxIsAFailure() {
	ok := s.server("ok", http.StatusOK)
	bad := s.server("bad", http.StatusInternalServerError)

	sink := NewWebhookSink(WebhookConfig{URLs: []string{ok.URL, bad.URL}, Timeout: time.Second}, log.NewTest(s.T()))
	err := sink.Handle(context.Background(),
		liveness.NewEvent("cam-1", liveness.StateUnknown, liveness.StateLive, time.Now()))
	s.Require().Error(err)
	s.True(errors.Is(err, ErrWebhook))
}

func (s *WebhookSinkTestSuite) TestNoURLs() {
	sink := NewWebhookSink(WebhookConfig{Timeout: time.Second}, log.NewNop())
	s.False(sink.Enabled())
	s.NoError(sink.Handle(context.Background(), liveness.Event{}))
}

func TestLogSink(t *testing.T) {
	logger, logs := log.NewObserved(zapcore.InfoLevel)
	sink := NewLogSink(logger)
	err := sink.Handle(context.Background(),
		liveness.NewEvent("cam-1", liveness.StateUnknown, liveness.StateLive, time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterMessage("Liveness transition").All()
	if len(entries) != 1 {
		t.Fatalf("got %d transition entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["streamId"] != "cam-1" || fields["current"] != "live" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
