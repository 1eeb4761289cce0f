package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CONVO_SERVER_ADDR points at a running server, the suites are skipped when empty
	ServerAddr string `envconfig:"CONVO_SERVER_ADDR"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_PASSWORD is used for every user registered by the suites
	Password string `envconfig:"E2E_PASSWORD" default:"E2e-Passw0rd!"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
