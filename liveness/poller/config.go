package poller

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
)

type Config struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	BackoffFactor float64       `mapstructure:"backoff_factor" validate:"gte=1"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff" validate:"gtefield=Interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	RefreshRate   float64       `mapstructure:"refresh_rate" validate:"gt=0"`
	RefreshBurst  int           `mapstructure:"refresh_burst" validate:"gt=0"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("interval"), "5s")
	v.SetDefault(p("backoff_factor"), 2)
	v.SetDefault(p("max_backoff"), "60s")
	v.SetDefault(p("stale_after"), "15s")
	v.SetDefault(p("refresh_rate"), 5)
	v.SetDefault(p("refresh_burst"), 10)
}

// newBackOff returns the failure delay sequence of one stream: interval,
// interval*factor, ... capped at MaxBackoff, without jitter or give-up.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Interval
	b.Multiplier = c.BackoffFactor
	b.RandomizationFactor = 0
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
