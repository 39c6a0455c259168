package goToken

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment prefix used when LoadConfig gets an
// empty one.
const DefaultEnvPrefix = "GOTOKEN_"

// LoadConfig reads a YAML file and environment variables over
// [DefaultConfig]. Later sources win: defaults, then the file, then the
// environment. An empty path skips the file.
//
// Environment keys separate sections with a double underscore:
// GOTOKEN_JWT__ACCESS_TTL=10m sets jwt.access_ttl. The loaded config is
// validated before it is returned.
func LoadConfig(path, envPrefix string) (Config, error) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	transform := func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
