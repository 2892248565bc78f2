// Package sanitize normalises paths pulled from recipes or from untrusted
// archive entries before they are joined onto a build root.
package sanitize

import (
	"path"
	"strings"
)

// Path lexically cleans p, strips any leading root, and collapses the
// exactly-"." case to the empty path so that root.Join(Path(".")) is root
// itself rather than root/.
//
// Path panics if the cleaned result still escapes the notional root (i.e.
// starts with ".."); callers pass untrusted input and must not recover from
// this condition by substituting a default path.
func Path(p string) string {
	cleaned := path.Clean(p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	for strings.HasPrefix(cleaned, "/") {
		cleaned = strings.TrimPrefix(cleaned, "/")
	}
	if cleaned == "." {
		return ""
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		panic("sanitize: path escapes root: " + p)
	}
	return cleaned
}
