package config

import (
	"regexp"
	"strings"

	"github.com/open-mcp/mcpbridge/pkg/logger"
)

var interpolationToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvReader abstracts process environment lookups so interpolation can be
// tested without mutating the real environment.
type EnvReader interface {
	Getenv(string) string
	Environ() []string
}

// interpolate replaces every ${NAME} token in raw using env. A token whose
// name is not set in env is preserved verbatim and logged as a warning.
func interpolate(raw string, env EnvReader) string {
	return interpolationToken.ReplaceAllStringFunc(raw, func(token string) string {
		name := interpolationToken.FindStringSubmatch(token)[1]
		if v, ok := lookupEnv(env, name); ok {
			return v
		}
		logger.Warnf("config: unresolved interpolation token ${%s}, leaving as-is", name)
		return token
	})
}

// Interpolate applies ${NAME} substitution against the real process
// environment. It is exported for callers outside the Loader — the REST
// facade applies it to an inbound POST /servers body before the Loader
// ever sees it.
func Interpolate(raw string) string {
	return interpolate(raw, OSEnv)
}

func lookupEnv(env EnvReader, name string) (string, bool) {
	for _, kv := range env.Environ() {
		k, v, found := strings.Cut(kv, "=")
		if found && k == name {
			return v, true
		}
	}
	return "", false
}
