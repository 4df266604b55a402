package status

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/imtaco/stream-liveness/liveness"
)

type NormalizerTestSuite struct {
	suite.Suite
}

func TestNormalizerSuite(t *testing.T) {
	suite.Run(t, new(NormalizerTestSuite))
}

func (s *NormalizerTestSuite) TestDefaultTokens() {
	n := NewNormalizer(nil)

	tests := []struct {
		raw  string
		want liveness.State
	}{
		{"broadcasting", liveness.StateLive},
		{"BROADCASTING", liveness.StateLive},
		{"  Live \n", liveness.StateLive},
		{"publish_started", liveness.StateLive},
		{"Publishing", liveness.StateLive},
		{"finished", liveness.StateOffline},
		{"error", liveness.StateOffline},
		{"live-ish", liveness.StateOffline},
		{"", liveness.StateUnknown},
		{"   ", liveness.StateUnknown},
	}
	for _, tt := range tests {
		s.Equal(tt.want, n.Classify(tt.raw), "raw=%q", tt.raw)
	}
}

func (s *NormalizerTestSuite) TestCustomTokens() {
	n := NewNormalizer([]string{" On-Air ", ""})

	s.Equal(liveness.StateLive, n.Classify("on-air"))
	s.Equal(liveness.StateOffline, n.Classify("broadcasting"))
	s.Equal([]string{"on-air"}, n.Tokens())
}

func (s *NormalizerTestSuite) TestEmptyTokensFallBack() {
	n := NewNormalizer([]string{" ", ""})

	s.Len(n.Tokens(), len(DefaultLiveTokens))
	s.Equal(liveness.StateLive, n.Classify("online"))
}

func (s *NormalizerTestSuite) TestConfiguredTokensAreFolded() {
	n := NewNormalizer([]string{"STREAMING"})

	s.Equal(liveness.StateLive, n.Classify("Streaming"))
	s.Equal(liveness.StateLive, n.Classify("streaming"))
}
