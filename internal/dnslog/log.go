// Package dnslog provides a single process-wide structured logger,
// in the style of the teacher's plugin/pkg/log.NewWithPlugin helper:
// every package asks for its own named child logger rather than
// reaching for a global.
package dnslog

import (
	"go.uber.org/zap"
)

var base *zap.Logger = zap.NewNop()

// Init installs the process-wide base logger. Called once from
// cmd/dnswasm before anything else logs.
func Init(l *zap.Logger) {
	if l != nil {
		base = l
	}
}

// New returns a sugared logger tagged with the given component name,
// e.g. dnslog.New("chain") or dnslog.New("pool.proxy").
func New(component string) *zap.SugaredLogger {
	return base.Sugar().With("component", component)
}
