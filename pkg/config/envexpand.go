package config

import (
	"os"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references in YAML content
// before it is parsed. Only the braced form is recognized, so literal $
// characters in prompts and passwords pass through untouched.
//
// Examples:
//   - ${OPENAI_API_KEY}          → value of OPENAI_API_KEY
//   - ${DB_HOST:-localhost}      → value of DB_HOST, or "localhost" when unset
//   - "price $100"               → preserved literally
//
// A reference to an unset variable without a default expands to the empty
// string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envRefPattern.FindSubmatch(match)
		name := string(groups[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if len(groups[2]) > 0 {
			// Strip the ":-" marker from the default group.
			return []byte(strings.TrimPrefix(string(groups[2]), ":-"))
		}
		return nil
	})
}
