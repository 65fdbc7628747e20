// Package logging configures the process logger and hands out
// per-exchange sub-loggers whose level can be raised selectively.
package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points the global logger at stderr with unix timestamps and tags
// every line with this instance's shard. Must run before any other
// package logs.
func Setup(instanceID, totalInstances int) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().
		Str("shard", fmt.Sprintf("%d/%d", instanceID, totalInstances)).
		Logger()
}

// Scopes tracks which exchanges log at debug level. The cycle path and
// the live path toggle independently.
type Scopes struct {
	debug     map[string]bool
	debugLive map[string]bool
}

// NewScopes builds the debug scope sets from the two exchange id lists.
func NewScopes(debugExchanges, debugLiveExchanges []string) *Scopes {
	s := &Scopes{
		debug:     make(map[string]bool, len(debugExchanges)),
		debugLive: make(map[string]bool, len(debugLiveExchanges)),
	}
	for _, id := range debugExchanges {
		s.debug[id] = true
	}
	for _, id := range debugLiveExchanges {
		s.debugLive[id] = true
	}
	return s
}

// ForExchange returns the exchange-tagged logger for cycle work.
func (s *Scopes) ForExchange(id string) zerolog.Logger {
	l := log.With().Str("exchange", id).Logger()
	if s.debug[id] {
		l = l.Level(zerolog.DebugLevel)
	}
	return l
}

// ForExchangeLive returns the logger for the exchange's live sampling
// path, scoped "<id>.live" so the minutely chatter filters separately.
func (s *Scopes) ForExchangeLive(id string) zerolog.Logger {
	l := log.With().Str("exchange", id+".live").Logger()
	if s.debugLive[id] {
		l = l.Level(zerolog.DebugLevel)
	}
	return l
}
