package etcd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) load() Config {
	v := viper.New()
	Setup(v, "etcd")
	var cfg struct {
		Etcd Config `mapstructure:"etcd"`
	}
	s.Require().NoError(v.Unmarshal(&cfg))
	return cfg.Etcd
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg := s.load()
	s.Equal([]string{"etcd:2379"}, cfg.Endpoints)
	s.Equal(5*time.Second, cfg.DialTimeout)
	s.Empty(cfg.Namespace)
	s.False(cfg.TLS.Enabled)

	cc, err := cfg.BuildClientConfig()
	s.Require().NoError(err)
	s.Equal(cfg.Endpoints, cc.Endpoints)
	s.Nil(cc.TLS)
}

func (s *ConfigTestSuite) TestNoEndpoints() {
	_, err := Config{}.BuildClientConfig()
	s.ErrorIs(err, ErrConfig)
}

func (s *ConfigTestSuite) TestTLSNeedsCertAndKey() {
	cfg := s.load()
	cfg.TLS = TLSConfig{Enabled: true, CertFile: "client.pem"}

	_, err := cfg.BuildClientConfig()
	s.ErrorIs(err, ErrConfig)
}

func (s *ConfigTestSuite) TestTLSBadCAFile() {
	ca := filepath.Join(s.T().TempDir(), "ca.pem")
	s.Require().NoError(os.WriteFile(ca, []byte("not a certificate"), 0o600))

	cfg := s.load()
	cfg.TLS = TLSConfig{Enabled: true, CAFile: ca}
	_, err := cfg.BuildClientConfig()
	s.ErrorIs(err, ErrConfig)

	cfg.TLS.CAFile = filepath.Join(s.T().TempDir(), "absent.pem")
	_, err = cfg.BuildClientConfig()
	s.ErrorIs(err, ErrConfig)
}

func (s *ConfigTestSuite) TestTLSWithoutFiles() {
	cfg := s.load()
	cfg.TLS = TLSConfig{Enabled: true, InsecureSkipVerify: true}

	cc, err := cfg.BuildClientConfig()
	s.Require().NoError(err)
	s.Require().NotNil(cc.TLS)
	s.True(cc.TLS.InsecureSkipVerify)
}
