// Package secrets resolves credentials from mounted files or environment
// references so they never need to sit in config.yaml.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/verdant-app/verdant/internal/errors"
)

// maxFileSize bounds secret file reads; secrets are passwords and DSNs
const maxFileSize = 64 * 1024

// Expand replaces ${VAR} and ${VAR:-fallback} references with environment
// values. A reference to an unset variable without a fallback is an error.
func Expand(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", newError(fmt.Errorf("missing environment variable(s): %s", strings.Join(missing, ", ")))
	}
	return expanded, nil
}

// ReadFile reads a secret from a file such as a container secret mount.
// Trailing newlines are dropped. Group or world readable files are accepted
// but reported through the returned warning.
func ReadFile(path string) (secret, warning string, err error) {
	if path == "" {
		return "", "", newError(fmt.Errorf("secret file path is empty"))
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	switch {
	case err != nil:
		return "", "", newError(fmt.Errorf("secret file %s: %w", clean, err))
	case !info.Mode().IsRegular():
		return "", "", newError(fmt.Errorf("secret file %s is not a regular file", clean))
	case info.Size() > maxFileSize:
		return "", "", newError(fmt.Errorf("secret file %s is larger than %d bytes", clean, maxFileSize))
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		warning = fmt.Sprintf("secret file %s is readable by group or others (%04o)", clean, perm)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", "", newError(fmt.Errorf("read secret file %s: %w", clean, err))
	}
	secret = strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", "", newError(fmt.Errorf("secret file %s is empty", clean))
	}
	return secret, warning, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty yields "".
func Resolve(filePath, value string) (secret, warning string, err error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	secret, err = Expand(value)
	return secret, "", err
}

func newError(err error) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Build()
}
