package sinks

import (
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Stream         string        `mapstructure:"stream" validate:"required_if=Enabled true"`
	StateKeyPrefix string        `mapstructure:"state_key_prefix"`
	MaxLen         int64         `mapstructure:"max_len" validate:"gte=0"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	RetryAttempts  uint64        `mapstructure:"retry_attempts"`
}

type WebhookConfig struct {
	URLs    []string      `mapstructure:"urls" validate:"dive,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Config struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("redis.enabled"), false)
	v.SetDefault(p("redis.stream"), "liveness:events")
	v.SetDefault(p("redis.state_key_prefix"), "liveness:state:")
	v.SetDefault(p("redis.max_len"), 10000)
	v.SetDefault(p("redis.retry_interval"), "200ms")
	v.SetDefault(p("redis.retry_attempts"), 3)

	v.SetDefault(p("webhook.urls"), []string{})
	v.SetDefault(p("webhook.timeout"), "5s")
}
