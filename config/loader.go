package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Load reads a YAML configuration file, applies environment variable
// substitution, merges it over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(content)
}

// Parse loads configuration from raw YAML bytes. Fields absent from the
// document keep their default values.
func Parse(content []byte) (*Config, error) {
	substituted := SubstituteEnvVars(string(content))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("parse YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values. A reference without a default whose
// variable is unset is left untouched.
//
//	${HOME}                 -> /home/user
//	${DEVICE_ID:-robot-001} -> robot-001 (if DEVICE_ID is not set)
func SubstituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := len(groups) > 2 && envVarPattern.FindStringSubmatchIndex(match)[4] >= 0

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}
