package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

type Config struct {
	ServerURL      string        `mapstructure:"server_url" validate:"required,url"`
	AppName        string        `mapstructure:"app_name" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("server_url"), "http://localhost:5080")
	v.SetDefault(p("app_name"), "LiveApp")
	v.SetDefault(p("request_timeout"), "3s")
}

// broadcast is the subset of the media server broadcast object we read.
// Status is a pointer so a missing field can be told apart from an empty one.
type broadcast struct {
	Status         *string  `json:"status"`
	Bitrate        *float64 `json:"bitrate"`
	Speed          *float64 `json:"speed"`
	HLSViewerCount *float64 `json:"hlsViewerCount"`
}

type clientImpl struct {
	http    *resty.Client
	baseURL string
	appName string
	logger  *log.Logger
}

// NewClient returns a StatusClient for the broadcasts REST endpoint. It never
// retries; scheduling the next attempt is the poll loop's job.
func NewClient(cfg *Config, logger *log.Logger) liveness.StatusClient {
	if logger == nil {
		panic("logger is required")
	}
	httpClient := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.RequestTimeout)

	return &clientImpl{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		appName: strings.Trim(cfg.AppName, "/"),
		logger:  logger,
	}
}

func (c *clientImpl) broadcastURL(streamID string) string {
	return fmt.Sprintf("%s/%s/rest/v2/broadcasts/%s",
		c.baseURL, c.appName, url.PathEscape(streamID))
}

func (c *clientImpl) Fetch(ctx context.Context, streamID string) (*liveness.RawStatus, error) {
	u := c.broadcastURL(streamID)

	resp, err := c.http.R().
		SetContext(ctx).
		Get(u)
	if err != nil {
		return nil, errors.Wrapf(ErrUnreachable, err, "fetch status of %s", streamID)
	}

	if !resp.IsSuccess() {
		return nil, errors.Wrapf(ErrBadResponse, &HTTPStatusError{StatusCode: resp.StatusCode()},
			"fetch status of %s", streamID)
	}

	var payload broadcast
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, err, "decode status of %s", streamID)
	}
	if payload.Status == nil {
		return nil, errors.Newf(ErrMalformedPayload, "status of %s has no status field", streamID)
	}

	c.logger.Debug("Status fetched",
		log.StreamID(streamID),
		log.String("status", *payload.Status),
		log.Duration("took", resp.Time()))

	return &liveness.RawStatus{
		Status:  *payload.Status,
		Metrics: payload.metrics(),
	}, nil
}

func (b *broadcast) metrics() *liveness.Metrics {
	if b.Bitrate == nil && b.Speed == nil && b.HLSViewerCount == nil {
		return nil
	}
	m := &liveness.Metrics{}
	if b.Bitrate != nil {
		m.Bitrate = int64(*b.Bitrate)
	}
	if b.Speed != nil {
		m.Speed = *b.Speed
	}
	if b.HLSViewerCount != nil {
		m.HLSViewerCount = int(*b.HLSViewerCount)
	}
	return m
}
