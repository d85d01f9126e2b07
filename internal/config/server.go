package config

import "time"

type ServerConfig struct {
	Port              string   `mapstructure:"port"`
	WSEnabled         bool     `mapstructure:"ws_enabled"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}

// Address is the listen address for the HTTP server.
func (s *ServerConfig) Address() string {
	return ":" + s.Port
}

// RequestTimeout bounds on-demand computations; zero disables it.
func (s *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec) * time.Second
}
