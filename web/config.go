package web

import "time"

// Config holds configuration options for the web server
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// TLS serves HTTPS. Empty cert and key files mean a self-signed pair
	// kept in CertDir.
	TLS      bool
	CertFile string
	KeyFile  string
	CertDir  string

	// Login required by the station commands and Sensor Control routes.
	Username string
	Password string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:            10065,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Username:        "Kootnet",
		Password:        "sensors",
	}
}
