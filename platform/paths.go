package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// windowsReservedNames are base names NTFS refuses regardless of extension.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const (
	windowsMaxPath = 260
	posixMaxPath   = 4096
	longPathPrefix = `\\?\`
)

// ValidatePath checks path format for the running OS. It is pure: the
// filesystem is never touched, so non-existent paths validate fine and
// existence checks stay with the caller. Embedded NUL bytes and Windows
// reserved device names are rejected on every platform; a media tree that
// contains CON.mp4 is unservable to half the clients out there no matter
// which OS the server runs on.
func ValidatePath(path string) error {
	if path == "" {
		return invalidPathError("path is empty", "configure a non-empty media directory")
	}
	if strings.ContainsRune(path, 0) {
		return invalidPathError("path contains a NUL byte", "remove the NUL byte from the path")
	}
	if name := reservedBaseName(path); name != "" {
		return &Error{
			Kind:        InvalidPath,
			Reason:      fmt.Sprintf("reserved name %q", name),
			Remediation: "rename the file; " + name + " is a reserved Windows device name",
		}
	}
	if runtime.GOOS == "windows" {
		return ValidateWindowsPath(path)
	}
	return ValidatePosixPath(path)
}

// ValidatePosixPath applies the POSIX format rules: no NUL, no ".."
// segment, length capped at 4096.
func ValidatePosixPath(path string) error {
	if strings.ContainsRune(path, 0) {
		return invalidPathError("path contains a NUL byte", "remove the NUL byte from the path")
	}
	if len(path) > posixMaxPath {
		return invalidPathError(
			fmt.Sprintf("path length %d exceeds %d", len(path), posixMaxPath),
			"shorten the directory layout")
	}
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return invalidPathError("path contains a .. segment", "use an absolute path without traversal segments")
		}
	}
	return nil
}

// ValidateWindowsPath applies the Windows format rules independent of the
// running OS so they stay testable everywhere: reserved characters,
// reserved device names, colon placement, and the MAX_PATH limit unless
// the long-path marker is present.
func ValidateWindowsPath(path string) error {
	if strings.ContainsRune(path, 0) {
		return invalidPathError("path contains a NUL byte", "remove the NUL byte from the path")
	}
	// The long-path marker itself carries a '?'; the character and colon
	// rules apply to what follows it.
	body := strings.TrimPrefix(path, longPathPrefix)
	for _, c := range `<>"|?*` {
		if strings.ContainsRune(body, c) {
			return invalidPathError(
				fmt.Sprintf("path contains reserved character %q", string(c)),
				"remove the character; it is reserved by the Windows file system")
		}
	}
	if strings.ContainsRune(body, ':') && !validColonUsage(body) {
		return &Error{
			Kind:        InvalidPath,
			Reason:      "invalid colon usage",
			Remediation: "a colon is only valid after a drive letter or inside the server component of a UNC path",
		}
	}
	if name := reservedBaseName(path); name != "" {
		return &Error{
			Kind:        InvalidPath,
			Reason:      fmt.Sprintf("reserved name %q", name),
			Remediation: "rename the file; " + name + " is a reserved Windows device name",
		}
	}
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '\\' || r == '/' }) {
		if seg == ".." {
			return invalidPathError("path contains a .. segment", "use an absolute path without traversal segments")
		}
	}
	if len(path) > windowsMaxPath && !strings.HasPrefix(path, longPathPrefix) {
		return invalidPathError(
			fmt.Sprintf("path length %d exceeds MAX_PATH (%d)", len(path), windowsMaxPath),
			`shorten the path or prefix it with \\?\ to enable long path support`)
	}
	return nil
}

// reservedBaseName returns the reserved Windows device name the final path
// component collides with, ignoring any extension, or "".
func reservedBaseName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		return ""
	}
	stem := base
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	upper := strings.ToUpper(stem)
	if windowsReservedNames[upper] {
		return upper
	}
	return ""
}

func isUNCPath(path string) bool {
	return strings.HasPrefix(path, `\\`) && len(path) > 2 && !strings.HasPrefix(path, longPathPrefix)
}

func looksLikeDriveLetter(path string) bool {
	return len(path) >= 2 && path[1] == ':' &&
		(path[0] >= 'a' && path[0] <= 'z' || path[0] >= 'A' && path[0] <= 'Z')
}

// validColonUsage enforces the two legal colon positions on Windows: the
// drive letter colon of a local path, and the server[:port] component of a
// UNC path.
func validColonUsage(path string) bool {
	if isUNCPath(path) {
		// Components: "", "", "server[:port]", "share", ...
		parts := strings.Split(path, `\`)
		if len(parts) < 4 {
			return false
		}
		for i, part := range parts {
			if strings.ContainsRune(part, ':') && i != 2 {
				return false
			}
		}
		return true
	}
	if looksLikeDriveLetter(path) {
		return strings.Count(path, ":") == 1
	}
	return !strings.ContainsRune(path, ':')
}

// NormalizePath brings a path into the canonical form used as the store
// key. On Windows everything is lowercased except the server and share
// components of a UNC path, and forward slashes become backslashes; on
// POSIX systems the path is returned unchanged.
func NormalizePath(path string) string {
	if runtime.GOOS != "windows" {
		return path
	}
	return normalizeWindowsPath(path)
}

func normalizeWindowsPath(path string) string {
	p := strings.ReplaceAll(path, "/", `\`)
	if isUNCPath(p) {
		parts := strings.SplitN(p, `\`, 5)
		// Keep \\server\share casing, lowercase the rest.
		if len(parts) == 5 {
			return strings.Join(parts[:4], `\`) + `\` + strings.ToLower(parts[4])
		}
		return p
	}
	return strings.ToLower(p)
}

// PathsEqual compares two paths under the platform case policy:
// case-insensitive on Windows, case-sensitive elsewhere.
func PathsEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(
			strings.ReplaceAll(a, "/", `\`),
			strings.ReplaceAll(b, "/", `\`))
	}
	return a == b
}

// CaseFoldForPrefix normalizes a path for prefix comparison under the
// platform case policy. The store's directory delete and rename handlers
// compare lowercased operands on Windows.
func CaseFoldForPrefix(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(strings.ReplaceAll(path, "/", `\`))
	}
	return path
}
