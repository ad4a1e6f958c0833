package node

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// ConfigFromEnv builds a node configuration the way a containerized node
// would read its environment. Unknown keys are kept in Config.Env.
func ConfigFromEnv(v searchversion.SearchVersion, env map[string]string) (Config, error) {
	cfg := Config{Version: v, Env: make(map[string]string, len(env))}
	for k, val := range env {
		cfg.Env[k] = val
	}

	cfg.Username = env[EnvUsername]
	cfg.Password = env[EnvPassword]
	cfg.DataPath = env[EnvDataPath]
	if raw, ok := env[EnvWarmUp]; ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s=%q: %w", EnvWarmUp, raw, err)
		}
		cfg.WarmUp = d
	}
	if raw, ok := env[EnvSingleNode]; ok && raw != "" {
		single, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s=%q: %w", EnvSingleNode, raw, err)
		}
		if !single {
			return Config{}, fmt.Errorf("%s=false: only single-node clusters are supported", EnvSingleNode)
		}
	}
	return cfg, nil
}

// redacted hides secrets on the settings endpoint.
func redacted(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if k == EnvPassword && v != "" {
			v = "********"
		}
		out[k] = v
	}
	return out
}
