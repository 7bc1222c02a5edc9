package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the process reads from its environment.
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":5005"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:3001"`
	PostgresURL    string        `envconfig:"POSTGRES_URL"`
	ResumeKey      string        `envconfig:"RESUME_KEY" required:"true"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"1s"`
	Debug          bool          `envconfig:"DEBUG" default:"false"`
}

func Load() (Config, error) {
	var cfg Config
	err := envconfig.Process("livepoll", &cfg)
	return cfg, err
}
