package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys lists the valid keys per TOML section.
var knownSectionKeys = map[string][]string{
	"server": {
		"host", "port", "protocol", "tls_cert_file", "tls_key_file",
		"shutdown_timeout", "metrics_addr",
	},
	"remote": {
		"drive_url", "network_url", "connect_timeout", "data_timeout",
		"user_agent", "max_retries",
	},
	"transfers": {"parallel_shards", "shard_size", "bandwidth_limit", "shard_retries"},
	"cache":     {"backend", "path"},
	"auth":      {"session_file"},
	"logging":   {"log_level", "log_format", "log_file"},
}

// knownSections is the sorted list of section names for matching.
var knownSections = func() []string {
	names := make([]string, 0, len(knownSectionKeys))
	for name := range knownSectionKeys {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := buildKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key. Keys inside a known section
// are matched against that section's fields; anything else is matched
// against the section names.
func buildKeyError(key toml.Key) error {
	if len(key) >= 2 {
		if fields, ok := knownSectionKeys[key[0]]; ok {
			return unknownKeyError(key[0]+"."+key[1], key[1], sortedCopy(fields))
		}
	}

	return unknownKeyError(key[0], key[0], knownSections)
}

func unknownKeyError(display, name string, candidates []string) error {
	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("unknown config key %q (did you mean %q?)", display, suggestion)
	}

	return fmt.Errorf("unknown config key %q", display)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)

	return out
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

