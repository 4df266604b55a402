package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// configFileKey names the optional config file; env CONFIG_FILE.
const configFileKey = "config_file"

func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	return v
}

func Load[T any](c *T, configure func(v *viper.Viper)) (*T, error) {
	v := NewViper()

	configure(v)
	return c, v.Unmarshal(c)
}

// ChangeFunc receives a freshly decoded config after the watched file changed,
// or the decode error when the new content is unusable.
type ChangeFunc[T any] func(next *T, err error)

// LoadAndWatch behaves like Load, and additionally reads CONFIG_FILE when it is
// set. Env vars keep precedence over file values. When onChange is not nil the
// file is watched and every change is decoded into a new T.
func LoadAndWatch[T any](c *T, configure func(v *viper.Viper), onChange ChangeFunc[T]) (*T, error) {
	v := NewViper()
	v.SetDefault(configFileKey, "")

	configure(v)

	file := v.GetString(configFileKey)
	if file == "" {
		return c, v.Unmarshal(c)
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "fail to read config file %s", file)
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	if onChange != nil {
		v.OnConfigChange(func(_ fsnotify.Event) {
			next := new(T)
			onChange(next, v.Unmarshal(next))
		})
		v.WatchConfig()
	}
	return c, nil
}
