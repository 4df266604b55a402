package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks . StatusClient,StreamController

// State is the normalized liveness of a stream.
type State string

const (
	StateUnknown State = "unknown"
	StateLive    State = "live"
	StateOffline State = "offline"
)

func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

func (s State) IsKnown() bool {
	return s == StateLive || s == StateOffline
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseState(raw string) (State, error) {
	switch State(strings.ToLower(raw)) {
	case StateLive:
		return StateLive, nil
	case StateOffline:
		return StateOffline, nil
	case StateUnknown, "":
		return StateUnknown, nil
	}
	return StateUnknown, fmt.Errorf("invalid liveness state %q", raw)
}

// Metrics are informational broadcast figures reported by the media server.
type Metrics struct {
	Bitrate        int64   `json:"bitrate"`
	Speed          float64 `json:"speed"`
	HLSViewerCount int     `json:"hlsViewerCount"`
}

// RawStatus is a successful status fetch before normalization.
type RawStatus struct {
	Status  string
	Metrics *Metrics
}

// Record is the cached liveness of one stream. Records are immutable
// snapshots; the cache swaps whole records.
type Record struct {
	StreamID      string    `json:"streamId"`
	State         State     `json:"state"`
	LastCheckedAt time.Time `json:"lastCheckedAt,omitzero"`
	LastChangedAt time.Time `json:"lastChangedAt,omitzero"`
	LastSuccessAt time.Time `json:"lastSuccessAt,omitzero"`
	LastError     string    `json:"lastError,omitempty"`
	Seq           uint64    `json:"seq"`
	Metrics       *Metrics  `json:"metrics,omitempty"`
}

func (r Record) IsLive() bool {
	return r.State == StateLive
}

// Observation is the outcome of one poll. Err is set when the fetch failed,
// in which case State is ignored.
type Observation struct {
	Seq     uint64
	At      time.Time
	State   State
	Metrics *Metrics
	Err     error
}

// UpdateResult reports what Cache.Update did with an observation.
type UpdateResult struct {
	// Applied is false when the observation was older than the stored one.
	Applied  bool
	Changed  bool
	Previous State
	Record   Record
}

// Event announces a state transition of one stream.
type Event struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"streamId"`
	Previous  State     `json:"previous"`
	Current   State     `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(streamID string, previous, current State, ts time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Previous:  previous,
		Current:   current,
		Timestamp: ts,
	}
}

// StatusClient fetches the raw broadcast status of one stream.
type StatusClient interface {
	Fetch(ctx context.Context, streamID string) (*RawStatus, error)
}

// Classifier maps a raw status string onto a State.
type Classifier interface {
	Classify(raw string) State
}

// Publisher accepts transition events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Reader is the read side of the liveness cache.
type Reader interface {
	Current(streamID string) (Record, bool)
	IsStale(streamID string, maxAge time.Duration) bool
	Snapshot() []Record
	AnyLive() bool
	Live() []string
	Age(r Record) time.Duration
}

// StreamController changes the monitored stream set at runtime.
type StreamController interface {
	AddStream(streamID string) bool
	RemoveStream(streamID string) bool
	Sync(streamIDs []string)
	Refresh(streamID string) bool
	Has(streamID string) bool
	Streams() []string
}
