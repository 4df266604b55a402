package etcd

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"

	"github.com/imtaco/stream-liveness/internal/errors"
)

const (
	ErrConfig errors.Code = "etcd_config"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CAFile   string `mapstructure:"ca_file"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Optional: set to true if you intentionally want to skip verification
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

type Config struct {
	Endpoints            []string      `mapstructure:"endpoints"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	DialKeepAliveTime    time.Duration `mapstructure:"dial_keepalive_time"`
	DialKeepAliveTimeout time.Duration `mapstructure:"dial_keepalive_timeout"`

	AutoSyncInterval time.Duration `mapstructure:"auto_sync_interval"`

	// Namespace prefixes every key, lease and watch of the client, so several
	// deployments can share one cluster. Registry prefixes are relative to it.
	Namespace string `mapstructure:"namespace"`

	TLS TLSConfig `mapstructure:"tls"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("endpoints"), []string{"etcd:2379"})
	v.SetDefault(p("username"), "")
	v.SetDefault(p("password"), "")

	v.SetDefault(p("dial_timeout"), "5s")
	v.SetDefault(p("dial_keepalive_time"), "30s")
	v.SetDefault(p("dial_keepalive_timeout"), "10s")

	// 0 disables autosync
	v.SetDefault(p("auto_sync_interval"), "0s")
	v.SetDefault(p("namespace"), "")

	v.SetDefault(p("tls.enabled"), false)
	v.SetDefault(p("tls.ca_file"), "")
	v.SetDefault(p("tls.cert_file"), "")
	v.SetDefault(p("tls.key_file"), "")
	v.SetDefault(p("tls.insecure_skip_verify"), false)
}

func (c Config) BuildClientConfig() (clientv3.Config, error) {
	cfg := clientv3.Config{
		Endpoints:            c.Endpoints,
		Username:             c.Username,
		Password:             c.Password,
		DialTimeout:          c.DialTimeout,
		DialKeepAliveTime:    c.DialKeepAliveTime,
		DialKeepAliveTimeout: c.DialKeepAliveTimeout,
		AutoSyncInterval:     c.AutoSyncInterval,
	}

	if len(c.Endpoints) == 0 {
		return clientv3.Config{}, errors.New(ErrConfig, "no endpoints")
	}

	if c.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(c.TLS)
		if err != nil {
			return clientv3.Config{}, err
		}
		cfg.TLS = tlsCfg
	}

	return cfg, nil
}

func buildTLSConfig(t TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec
	}

	if t.CAFile != "" {
		caPEM, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, errors.Wrap(ErrConfig, err, "read ca_file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.Newf(ErrConfig, "no certificates in ca_file %s", t.CAFile)
		}
		tc.RootCAs = pool
	}

	// client cert is optional, but needs both halves
	if t.CertFile != "" || t.KeyFile != "" {
		if t.CertFile == "" || t.KeyFile == "" {
			return nil, errors.New(ErrConfig, "tls needs both cert_file and key_file")
		}
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, errors.Wrap(ErrConfig, err, "load client cert")
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

// Client is an etcd client whose KV, watch and lease calls are scoped to the
// configured namespace. It satisfies Watcher and LeaseKV.
type Client struct {
	clientv3.KV
	clientv3.Watcher
	clientv3.Lease

	raw *clientv3.Client
}

func NewClient(c *Config) (*Client, error) {
	cfg, err := c.BuildClientConfig()
	if err != nil {
		return nil, err
	}
	raw, err := clientv3.New(cfg)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err, "create etcd client")
	}
	return wrap(raw, c.Namespace), nil
}

func wrap(raw *clientv3.Client, ns string) *Client {
	ns = strings.TrimSuffix(ns, "/")
	if ns == "" {
		return &Client{KV: raw.KV, Watcher: raw.Watcher, Lease: raw.Lease, raw: raw}
	}
	return &Client{
		KV:      namespace.NewKV(raw.KV, ns),
		Watcher: namespace.NewWatcher(raw.Watcher, ns),
		Lease:   namespace.NewLease(raw.Lease, ns),
		raw:     raw,
	}
}

// Close releases the watchers and leases of the namespace and the
// connection.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	// the namespaced watcher and lease wrap the raw ones, which Close below
	// also stops
	return c.raw.Close()
}
