// Package security is the gatekeeper every URL the downloader or preloader
// touches, and every filesystem path derived from user/remote data, passes
// through before use. It is grounded on the source's utils/security.py
// (SafePath, UrlValidator): the same dangerous-pattern prefilter, the same
// Windows-reserved-name handling, the same private-network/blocked-port
// enumeration, reimplemented with Go's path/filepath containment checks
// instead of pathlib.Path.resolve().relative_to().
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned by JoinUnder when a resolved component would
// leave base.
var ErrPathEscape = errors.New("security: path escapes base directory")

var windowsReserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

const illegalChars = `\/:*?"<>|`

// SanitizeFilename strips control characters and the illegal-for-Windows
// character set, trims leading spaces and trailing dots/spaces, truncates at maxLen while
// preserving the extension, and prefixes an underscore to Windows reserved
// device names. An empty or entirely-illegal input becomes "file".
func SanitizeFilename(name string, maxLen int) string {
	if name == "" {
		return "file"
	}

	var b strings.Builder
	for _, r := range name {
		if r < 32 || r >= 127 {
			continue
		}
		if strings.ContainsRune(illegalChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimRight(strings.TrimLeft(b.String(), " "), " .")
	if name == "" {
		return "file"
	}

	if maxLen > 0 && len(name) > maxLen {
		if dot := strings.LastIndex(name, "."); dot > 0 {
			ext := name[dot+1:]
			base := name[:dot]
			maxBase := maxLen - len(ext) - 1
			if maxBase > 0 {
				if maxBase < len(base) {
					base = base[:maxBase]
				}
				name = base + "." + ext
			} else {
				name = name[:maxLen]
			}
		} else {
			name = name[:maxLen]
		}
	}

	baseName := strings.ToUpper(name)
	if dot := strings.Index(baseName, "."); dot >= 0 {
		baseName = baseName[:dot]
	}
	if _, reserved := windowsReserved[baseName]; reserved {
		name = "_" + name
	}

	return name
}

var dangerousPatterns = []string{"../", "..\\"}

// JoinUnder joins parts onto base and returns an absolute path, failing
// with ErrPathEscape if any resolved component would leave base. Dangerous
// literal patterns (../ and ..\) are rejected up front, then the joined
// result is required to remain lexically under the resolved base.
func JoinUnder(base string, parts ...string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("security: resolve base: %w", err)
	}
	absBase = filepath.Clean(absBase)

	for _, p := range parts {
		for _, pattern := range dangerousPatterns {
			if strings.Contains(p, pattern) || strings.HasPrefix(p, "..") {
				return "", fmt.Errorf("%w: dangerous pattern in %q", ErrPathEscape, p)
			}
		}
	}

	joined := filepath.Join(append([]string{absBase}, parts...)...)
	joined = filepath.Clean(joined)

	rel, err := filepath.Rel(absBase, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside %q", ErrPathEscape, joined, absBase)
	}

	return joined, nil
}

// IsSafePath reports whether target resolves to somewhere under base,
// without returning an error — used by call sites that only need a
// boolean containment check.
func IsSafePath(base, target string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(absBase), filepath.Clean(absTarget))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
