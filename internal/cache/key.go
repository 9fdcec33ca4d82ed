package cache

import "regexp"

// Key character sets. The file and memory backends accept letters, digits,
// underscore, and dot. Redis and Postgres additionally accept colon and
// hyphen, the conventional namespace separators; the namespace prefix itself
// is an internal storage detail and is never part of the caller's key.
var (
	strictKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	wideKeyPattern   = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
)

func validateKey(key string, pattern *regexp.Regexp) error {
	if key == "" {
		return &InvalidKeyError{Key: key, Reason: "key is empty"}
	}
	if !pattern.MatchString(key) {
		return &InvalidKeyError{Key: key, Reason: "key contains disallowed characters"}
	}
	return nil
}

// validateKeys checks every key up front, before any storage work, and
// returns the input with duplicates removed, first occurrence wins.
func validateKeys(keys []string, pattern *regexp.Regexp) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := validateKey(k, pattern); err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

// validateValueKeys applies the same up-front check to a batch-set input.
// Map keys are already unique; only validation is needed.
func validateValueKeys(values map[string]any, pattern *regexp.Regexp) error {
	for k := range values {
		if err := validateKey(k, pattern); err != nil {
			return err
		}
	}
	return nil
}
