// Package config handles YAML config file loading for tributary commands.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv expands ${VAR} and ${VAR:-default} from the process environment.
//
// Unset variables without defaults expand to the empty string. Required
// values such as the endpoint or tenant are checked when a command runs.
func ExpandEnv(input string) string {
	return ExpandWith(input, os.LookupEnv)
}

// ExpandWith expands variables using lookup. A variable that is unset or
// empty takes its default, if one is given.
func ExpandWith(input string, lookup func(string) (string, bool)) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := lookup(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
