// Package version defines happclient version information and build metadata.
//
// CommitHash should be set using -ldflags during compilation. When it is not,
// the VCS revision recorded by the Go toolchain is used instead.
package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"strings"
)

// CommitHash stores the current git commit hash of this build.
var CommitHash string

// semanticAlphabet is the allowed characters from the semantic versioning
// guidelines for pre-release version and build metadata strings.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (https://semver.org/).
const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0

	// appPreRelease MUST only contain characters from semanticAlphabet.
	appPreRelease = "beta"
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Version returns the semantic version string.
func Version() string {
	return semanticVersion()
}

// RichVersion returns the semantic version along with best-effort git
// metadata.
func RichVersion() string {
	version := semanticVersion()
	commit, dirty := commitInfo()

	parts := make([]string, 0, 2)
	if commit != "" {
		parts = append(parts, fmt.Sprintf("commit_hash=%s", commit))
	}
	if dirty {
		parts = append(parts, "dirty=true")
	}
	if len(parts) == 0 {
		return version
	}
	return fmt.Sprintf("%s %s", version, strings.Join(parts, " "))
}

// commitInfo prefers the ldflags hash over the toolchain's vcs settings.
func commitInfo() (string, bool) {
	if hash := strings.TrimSpace(CommitHash); hash != "" {
		return hash, false
	}

	info, ok := readBuildInfo()
	if !ok {
		return "", false
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return revision, dirty && revision != ""
}

func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	preRelease := normalizeVerString(appPreRelease, semanticAlphabet)
	if preRelease != "" {
		version = fmt.Sprintf("%s-%s", version, preRelease)
	}
	return version
}

// normalizeVerString strips characters not present in alphabet.
func normalizeVerString(str string, alphabet string) string {
	var result bytes.Buffer
	for _, r := range str {
		if strings.ContainsRune(alphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
