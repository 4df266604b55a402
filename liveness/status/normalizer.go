package status

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/imtaco/stream-liveness/liveness"
)

// DefaultLiveTokens are the broadcast statuses that count as live.
var DefaultLiveTokens = []string{
	"broadcasting",
	"live",
	"playing",
	"active",
	"started",
	"publish_started",
	"stream_started",
	"online",
	"ready",
	"created",
	"publishing",
}

// Normalizer classifies raw status strings. It is immutable and safe for
// concurrent use.
type Normalizer struct {
	tokens map[string]struct{}
}

// NewNormalizer builds a classifier for tokens; an empty set falls back to
// DefaultLiveTokens.
func NewNormalizer(tokens []string) *Normalizer {
	n := &Normalizer{
		tokens: make(map[string]struct{}),
	}
	for _, t := range tokens {
		if t = n.key(t); t != "" {
			n.tokens[t] = struct{}{}
		}
	}
	if len(n.tokens) == 0 {
		for _, t := range DefaultLiveTokens {
			n.tokens[n.key(t)] = struct{}{}
		}
	}
	return n
}

func (n *Normalizer) key(s string) string {
	// cases.Caser keeps state and is not safe for concurrent use
	return cases.Fold().String(strings.TrimSpace(s))
}

// Classify returns Live for a known live token, Unknown for an empty status and
// Offline for anything else.
func (n *Normalizer) Classify(raw string) liveness.State {
	k := n.key(raw)
	if k == "" {
		return liveness.StateUnknown
	}
	if _, ok := n.tokens[k]; ok {
		return liveness.StateLive
	}
	return liveness.StateOffline
}

// Tokens returns the folded token set, unordered.
func (n *Normalizer) Tokens() []string {
	out := make([]string, 0, len(n.tokens))
	for t := range n.tokens {
		out = append(out, t)
	}
	return out
}
