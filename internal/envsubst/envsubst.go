// Package envsubst expands $VAR and ${VAR} references in build-step strings
// against a recipe's accumulated environment map.
package envsubst

import (
	"fmt"
	"regexp"
)

var (
	simpleRe = regexp.MustCompile(`(^|[^\\])\$([A-Za-z_][A-Za-z0-9_]*)`)
	braceRe  = regexp.MustCompile(`(^|[^\\])\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Substitute expands $VAR and ${VAR} occurrences in line, looking each name
// up in env, iterating to a fixpoint so that a substituted value may itself
// contain further references. A backslash immediately before the '$'
// suppresses expansion of that occurrence. Substitute returns an error
// naming the first unresolved variable it encounters.
func Substitute(line string, env map[string]string) (string, error) {
	for {
		changed := false
		var substErr error

		expand := func(re *regexp.Regexp) string {
			return re.ReplaceAllStringFunc(line, func(m string) string {
				sub := re.FindStringSubmatch(m)
				lead, name := sub[1], sub[2]
				val, ok := env[name]
				if !ok {
					if substErr == nil {
						substErr = fmt.Errorf("envsubst: no env var found: %s", name)
					}
					return m
				}
				changed = true
				return lead + val
			})
		}

		line = expand(simpleRe)
		if substErr != nil {
			return "", substErr
		}
		line = expand(braceRe)
		if substErr != nil {
			return "", substErr
		}
		if !changed {
			return line, nil
		}
	}
}
