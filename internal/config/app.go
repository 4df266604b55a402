package config

import (
	"time"

	"github.com/spf13/viper"
)

// App holds process lifecycle settings shared by every command.
type App struct {
	LogConfigFile string `mapstructure:"log_config_file"`
	// StartupTimeout bounds each dependency check at boot (redis ping,
	// registry initial sync, instance announcement).
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("log_config_file"), "") // empty means use default config
	v.SetDefault(p("startup_timeout"), "30s")
	v.SetDefault(p("shutdown_timeout"), "10s")
}
