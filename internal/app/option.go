package app

import (
	"io"
	"time"

	"gv2cal/internal/config"
)

// Option is a functional option for configuring a sync run.
type Option func(*application)

type application struct {
	config *config.Config
	now    func() time.Time
	banner io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithClock replaces time.Now, used for first-seen and last-synced stamps.
func WithClock(now func() time.Time) Option {
	return func(a *application) {
		a.now = now
	}
}

// WithBanner prints the start-up banner to w. Nil disables it.
func WithBanner(w io.Writer) Option {
	return func(a *application) {
		a.banner = w
	}
}
