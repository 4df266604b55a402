package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
)

func TestResourceAttributesOrdered(t *testing.T) {
	cfg := &Config{
		ServiceName: "stream-liveness",
		ResourceAttributes: map[string]string{
			"region":      "eu-1",
			"environment": "prod",
		},
	}

	attrs := resourceAttributes(cfg, "inst-1")
	require.Len(t, attrs, 4)
	assert.Equal(t, attribute.Key("service.name"), attrs[0].Key)
	assert.Equal(t, "stream-liveness", attrs[0].Value.AsString())
	assert.Equal(t, attribute.Key("service.instance.id"), attrs[1].Key)
	assert.Equal(t, "inst-1", attrs[1].Value.AsString())
	assert.Equal(t, attribute.Key("environment"), attrs[2].Key)
	assert.Equal(t, attribute.Key("region"), attrs[3].Key)

	assert.Len(t, resourceAttributes(&Config{ServiceName: "x"}, ""), 1)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "ParentBased")
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{ServiceName: "stream-liveness"}

	shutdown, err := Init(ctx, cfg, "inst-1", log.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), &Config{}, "", log.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInit))
}
