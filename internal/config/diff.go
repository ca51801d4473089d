package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Only the log level, the generation tunables and the matching threshold
// are applied at runtime; everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GenerationChanged is set when any generation tunable changed. The
	// engine is rebuilt around the existing providers.
	GenerationChanged bool

	MatchingChanged bool

	// RestartRequired names the changed sections that are only read at
	// startup, e.g. "providers" or "server.listen_addr".
	RestartRequired []string
}

// Changed reports whether d contains any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GenerationChanged || d.MatchingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// The circuit breaker wraps the providers and is built once with them.
	oldGen, newGen := old.Generation, new.Generation
	oldGen.CircuitBreaker, newGen.CircuitBreaker = BreakerConfig{}, BreakerConfig{}
	if oldGen != newGen {
		d.GenerationChanged = true
	}
	if old.Generation.CircuitBreaker != new.Generation.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "generation.circuit_breaker")
	}

	if !equalThreshold(old.Matching.SimilarityThreshold, new.Matching.SimilarityThreshold) {
		d.MatchingChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Moderation, new.Moderation) {
		d.RestartRequired = append(d.RestartRequired, "moderation")
	}
	if old.Embedding != new.Embedding {
		d.RestartRequired = append(d.RestartRequired, "embedding")
	}

	return d
}

func equalThreshold(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
