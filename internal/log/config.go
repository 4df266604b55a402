package log

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLevel  = "LOG_LEVEL"
	envFormat = "LOG_FORMAT"

	// defaultLevelKey sets the level of modules without a more specific entry
	defaultLevelKey = "default"
)

var (
	envFunc = env
)

func parseLevel(s string) (zapcore.Level, bool) {
	var lvl zapcore.Level
	err := lvl.Set(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

func env(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func parseLevelFromEnv(key string) (zapcore.Level, bool) {
	v, ok := envFunc(key)
	if !ok {
		return zapcore.InfoLevel, false
	}
	return parseLevel(v)
}

// envKey is LOG_LEVEL__POLL_LOOP__SCHED for the module path PollLoop.Sched.
func envKey(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = strcase.ToScreamingSnake(n)
	}
	return envLevel + "__" + strings.Join(parts, "__")
}

// configKey is poll_loop.sched for the module path PollLoop.Sched. Config
// keys are lower case because viper folds map keys.
func configKey(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = strcase.ToSnake(n)
	}
	return strings.Join(parts, ".")
}

// moduleLevel resolves a level from env vars alone.
func moduleLevel(names []string) zapcore.Level {
	return resolveLevel(names, nil)
}

// resolveLevel walks the module path from most to least specific. At each
// depth an env var beats a configured level. LOG_LEVEL and then the
// configured default apply when nothing more specific matched.
func resolveLevel(names []string, configured map[string]zapcore.Level) zapcore.Level {
	for i := len(names); i > 0; i-- {
		if lv, ok := parseLevelFromEnv(envKey(names[:i])); ok {
			return lv
		}
		if lv, ok := configured[configKey(names[:i])]; ok {
			return lv
		}
	}
	if lv, ok := parseLevelFromEnv(envLevel); ok {
		return lv
	}
	if lv, ok := configured[defaultLevelKey]; ok {
		return lv
	}
	return zapcore.InfoLevel
}

// Levels owns the atomic level of every module logger so that levels from
// config can change while the process runs.
type Levels struct {
	mu         sync.Mutex
	configured map[string]zapcore.Level
	atoms      map[string]moduleAtom
}

type moduleAtom struct {
	names []string
	level zap.AtomicLevel
}

func newLevels() *Levels {
	return &Levels{
		configured: map[string]zapcore.Level{},
		atoms:      map[string]moduleAtom{},
	}
}

func (l *Levels) atom(names []string) zap.AtomicLevel {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := configKey(names)
	if a, ok := l.atoms[key]; ok {
		return a.level
	}
	a := moduleAtom{
		names: append([]string(nil), names...),
		level: zap.NewAtomicLevelAt(resolveLevel(names, l.configured)),
	}
	l.atoms[key] = a
	return a.level
}

// Set replaces the configured levels and re-resolves every module. Keys are
// snake case module paths such as "poll_loop" or "poll_loop.sched", plus
// "default". Nothing changes when any value is invalid.
func (l *Levels) Set(levels map[string]string) error {
	next := make(map[string]zapcore.Level, len(levels))
	var invalid []string
	for k, v := range levels {
		lv, ok := parseLevel(v)
		if !ok {
			invalid = append(invalid, k+"="+v)
			continue
		}
		next[strings.ToLower(strings.TrimSpace(k))] = lv
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid log levels: %s", strings.Join(invalid, ", "))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.configured = next
	for _, a := range l.atoms {
		a.level.SetLevel(resolveLevel(a.names, next))
	}
	return nil
}
