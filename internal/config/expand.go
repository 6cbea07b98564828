package config

import (
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} references.
// An unset or empty VAR takes the default (or "" when none is given).
// A bare $VAR is left alone so literal dollar signs survive.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}
