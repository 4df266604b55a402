package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/imtaco/stream-liveness/internal/config"
	"github.com/imtaco/stream-liveness/internal/etcd"
	"github.com/imtaco/stream-liveness/internal/heartbeat"
	"github.com/imtaco/stream-liveness/internal/httputil"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/internal/otel"
	"github.com/imtaco/stream-liveness/internal/redis"
	"github.com/imtaco/stream-liveness/internal/validation"
	"github.com/imtaco/stream-liveness/internal/workflow"
	"github.com/imtaco/stream-liveness/liveness/cache"
	"github.com/imtaco/stream-liveness/liveness/eventbus"
	"github.com/imtaco/stream-liveness/liveness/poller"
	"github.com/imtaco/stream-liveness/liveness/registry"
	"github.com/imtaco/stream-liveness/liveness/sinks"
	"github.com/imtaco/stream-liveness/liveness/status"
	"github.com/imtaco/stream-liveness/liveness/transport"
)

type RegistryConfig struct {
	Etcd registry.Config `mapstructure:"etcd"`
}

type Config struct {
	App        config.App       `mapstructure:"app"`
	HTTP       httputil.Config  `mapstructure:"http"`
	Redis      redis.Config     `mapstructure:"redis"`
	Etcd       etcd.Config      `mapstructure:"etcd"`
	Otel       otel.Config      `mapstructure:"otel"`
	Media      status.Config    `mapstructure:"media"`
	Poll       poller.Config    `mapstructure:"poll"`
	Bus        eventbus.Config  `mapstructure:"bus"`
	Sinks      sinks.Config     `mapstructure:"sinks"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	API        transport.Config `mapstructure:"api"`
	Streams    []string         `mapstructure:"streams" validate:"dive,streamid"`
	LiveTokens []string         `mapstructure:"live_tokens"`

	// LogLevels maps snake case module paths to levels; reloadable
	LogLevels map[string]string `mapstructure:"log_levels"`
}

func configure(v *viper.Viper) {
	v.SetDefault("streams", []string{})
	v.SetDefault("live_tokens", status.DefaultLiveTokens)
	v.SetDefault("log_levels", map[string]string{})

	config.Setup(v, "app")
	httputil.Setup(v, "http")
	redis.Setup(v, "redis")
	etcd.Setup(v, "etcd")
	otel.Setup(v, "otel")
	status.Setup(v, "media")
	poller.Setup(v, "poll")
	eventbus.Setup(v, "bus")
	sinks.Setup(v, "sinks")
	registry.Setup(v, "registry.etcd")
	transport.Setup(v, "api")
}

func loadConfig(onChange config.ChangeFunc[Config]) (*Config, error) {
	cfg, err := config.LoadAndWatch(&Config{}, configure, onChange)
	if err != nil {
		return nil, err
	}
	if err := validation.Config(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// instanceInfo is announced under registry.etcd.instance_prefix.
type instanceInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"startedAt"`
}

func newInstanceInfo(addr string) instanceInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return instanceInfo{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		Addr:      addr,
		StartedAt: time.Now().UTC(),
	}
}

// streamReloader applies the streams list of a reloaded config. Only streams
// that came from the config are removed, so API and etcd streams survive.
type streamReloader struct {
	mu      sync.Mutex
	current []string
	ctrl    interface {
		AddStream(string) bool
		RemoveStream(string) bool
	}
	logger *log.Logger
}

func (r *streamReloader) apply(next []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added, removed := diffStreams(r.current, next)
	for _, id := range removed {
		r.ctrl.RemoveStream(id)
	}
	for _, id := range added {
		r.ctrl.AddStream(id)
	}
	r.current = append([]string(nil), next...)

	r.logger.Info("Configured streams reloaded",
		log.Strings("added", added),
		log.Strings("removed", removed))
}

func diffStreams(prev, next []string) (added, removed []string) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		inPrev[id] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, id := range next {
		if _, dup := inNext[id]; dup {
			continue
		}
		inNext[id] = struct{}{}
		if _, ok := inPrev[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range inPrev {
		if _, ok := inNext[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func main() {
	// set once the poll loop exists; reloads before that are ignored
	var reloader *streamReloader
	var reloadMu sync.Mutex

	var logger *log.Logger
	onChange := func(next *Config, err error) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if reloader == nil {
			return
		}
		if err == nil {
			err = validation.Config(next)
		}
		if err != nil {
			logger.Error("Ignoring invalid config reload", log.Error(err))
			return
		}
		if err := logger.SetLevels(next.LogLevels); err != nil {
			logger.Error("Ignoring reloaded log levels", log.Error(err))
		}
		reloader.apply(next.Streams)
	}

	cfg, err := loadConfig(onChange)
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err = log.NewLogger(cfg.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := logger.SetLevels(cfg.LogLevels); err != nil {
		logger.Fatal("Invalid log levels", log.Error(err))
	}

	// global background context
	ctx := context.Background()
	instance := newInstanceInfo(cfg.HTTP.Addr)
	startupCtx, cancelStartup := context.WithTimeout(ctx, cfg.App.StartupTimeout)
	defer cancelStartup()

	otelShutdown, err := otel.Init(ctx, &cfg.Otel, instance.ID, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting stream liveness service",
		log.String("instanceId", instance.ID),
		log.String("addr", cfg.HTTP.Addr),
		log.String("mediaServer", cfg.Media.ServerURL),
		log.String("app", cfg.Media.AppName),
		log.Strings("streams", cfg.Streams))

	// Event bus and sinks
	bus := eventbus.New(cfg.Bus, logger.Module("Bus"))
	bus.Subscribe("log", sinks.NewLogSink(logger.Module("LogSink")).Handle)

	var redisClient *goredis.Client
	if cfg.Sinks.Redis.Enabled {
		redisClient = redis.NewClient(&cfg.Redis)
		if err := redis.Ping(startupCtx, redisClient); err != nil {
			logger.Fatal("Failed to connect to redis", log.Error(err))
		}
		redisSink, err := sinks.NewRedisSink(redisClient, cfg.Sinks.Redis, logger.Module("RedisSink"))
		if err != nil {
			logger.Fatal("Failed to create redis sink", log.Error(err))
		}
		bus.Subscribe("redis", redisSink.Handle)
	}

	if webhook := sinks.NewWebhookSink(cfg.Sinks.Webhook, logger.Module("Webhook")); webhook.Enabled() {
		bus.Subscribe("webhook", webhook.Handle)
	}

	// Liveness core
	store := cache.New(nil)
	pollLoop := poller.New(
		cfg.Poll,
		status.NewClient(&cfg.Media, logger.Module("StatusClient")),
		status.NewNormalizer(cfg.LiveTokens),
		store,
		bus,
		logger.Module("PollLoop"),
	)
	if err := pollLoop.Start(ctx); err != nil {
		logger.Fatal("Failed to start poll loop", log.Error(err))
	}

	reloadMu.Lock()
	reloader = &streamReloader{ctrl: pollLoop, logger: logger.Module("Reload")}
	reloader.apply(cfg.Streams)
	reloadMu.Unlock()

	// Etcd registry
	var etcdClient *etcd.Client
	var reg *registry.Registry
	var presence *heartbeat.Heartbeat[instanceInfo]
	if cfg.Registry.Etcd.Enabled {
		etcdClient, err = etcd.NewClient(&cfg.Etcd)
		if err != nil {
			logger.Fatal("Failed to create etcd client", log.Error(err))
		}
		reg = registry.New(etcdClient, cfg.Registry.Etcd, pollLoop, logger.Module("Registry"))
		if err := reg.Start(startupCtx); err != nil {
			logger.Fatal("Failed to start etcd registry", log.Error(err))
		}

		if cfg.Registry.Etcd.InstancePrefix != "" {
			presence = heartbeat.New(etcdClient,
				cfg.Registry.Etcd.InstancePrefix+instance.ID,
				instance,
				cfg.Registry.Etcd.InstanceTTL,
				logger.Module("Presence"))
			if err := presence.Start(startupCtx); err != nil {
				logger.Fatal("Failed to announce instance", log.Error(err))
			}
		}
	}

	// HTTP API
	router := transport.NewRouter(
		cfg.API,
		cfg.Poll.StaleAfter,
		cfg.HTTP.AllowedOrigins,
		store,
		pollLoop,
		bus,
		logger.Module("Router"),
	)
	server := httputil.NewServer(&cfg.HTTP, router.Handler())

	go func() {
		logger.Info("Starting HTTP server", log.String("addr", cfg.HTTP.Addr))
		if err := server.Listen(); err != nil {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	cancelStartup()
	logger.Info("Stream liveness service started")

	steps := []workflow.Step{
		{Name: "http", Fn: func(ctx context.Context) error {
			router.Close()
			return server.Shutdown(ctx)
		}},
		{Name: "registry", Fn: func(ctx context.Context) error {
			if presence != nil {
				if err := presence.Stop(ctx); err != nil {
					logger.Error("Failed to revoke instance lease", log.Error(err))
				}
			}
			if reg == nil {
				return nil
			}
			return reg.Stop()
		}},
		{Name: "poller", Fn: func(context.Context) error {
			pollLoop.Stop()
			return nil
		}},
		{Name: "bus", Fn: bus.Close},
		{Name: "clients", Fn: func(context.Context) error {
			if etcdClient != nil {
				if err := etcdClient.Close(); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Close()
			}
			return nil
		}},
		{Name: "otel", Fn: otelShutdown},
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), steps, cfg.App.ShutdownTimeout)
}
