package config

import (
	"os"
	"strings"
)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnvLookup builds a lookup over a fixed map, for tests.
func MapEnvLookup(env map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// SnapshotProcessEnv returns a map of the current process environment variables.
// The resulting map is a copy and safe for modification by callers.
func SnapshotProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}
