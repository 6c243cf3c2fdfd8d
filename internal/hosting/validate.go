package hosting

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var (
	keyPattern     = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	urlPattern     = regexp.MustCompile(`^https?://`)
)

// IsValidKey reports whether key is usable as a hostname label.
// Callers lowercase the key before sending it.
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeKey lowercases and validates a deployment key
func NormalizeKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if !IsValidKey(key) {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return key, nil
}

// ParseEnvs parses KEY=VALUE entries. Values may contain '='.
func ParseEnvs(entries []string) (map[string]string, error) {
	envs := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%q: %w", entry, ErrEnvArity)
		}
		if !envNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%q: %w", name, ErrInvalidEnvName)
		}
		envs[name] = value
	}
	return envs, nil
}

// LoadEnvFile reads a dotenv file and validates its names
func LoadEnvFile(path string) (map[string]string, error) {
	envs, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	for name := range envs {
		if !envNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%s: %q: %w", path, name, ErrInvalidEnvName)
		}
	}
	return envs, nil
}

// MergeEnvs layers the given maps; later maps win
func MergeEnvs(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// ParseRegions splits comma separated region flags and drops duplicates
func ParseRegions(values []string) []string {
	seen := make(map[string]bool)
	var regions []string
	for _, value := range values {
		for _, region := range strings.Split(value, ",") {
			region = strings.ToLower(strings.TrimSpace(region))
			if region == "" || seen[region] {
				continue
			}
			seen[region] = true
			regions = append(regions, region)
		}
	}
	return regions
}

// ValidateResources rejects non-positive sizing when it was given
func ValidateResources(cpus, memoryMB int) error {
	if cpus < 0 {
		return fmt.Errorf("cpus must be positive, got %d", cpus)
	}
	if memoryMB < 0 {
		return fmt.Errorf("memory must be positive, got %d MB", memoryMB)
	}
	return nil
}
