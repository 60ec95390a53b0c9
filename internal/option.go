package internal

import "github.com/mwhitley/ticketsync/internal/drain"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	gateway drain.Gateway
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithGateway overrides the issue tracker gateway. Used in tests.
func WithGateway(gw drain.Gateway) Option {
	return func(a *application) {
		a.gateway = gw
	}
}
