package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validation range constants.
const (
	minShutdownTimeout = 1 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minShardBytes      = 64 * kibibyte
	maxShardBytes      = 4 * gibibyte
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks all configuration values and returns all errors found.
// Struct tags cover ranges and enums; the remaining checks parse durations
// and sizes that are stored as strings.
func Validate(cfg *Config) error {
	var errs []error

	if err := structValidator.Struct(cfg); err != nil {
		errs = append(errs, formatValidationErrors(err)...)
	}

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)

	return errors.Join(errs...)
}

// formatValidationErrors turns validator failures into one error per field.
func formatValidationErrors(err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}

	out := make([]error, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, fmt.Errorf("%s: failed %q check (value: %v)", e.Namespace(), e.Tag(), e.Value()))
	}

	return out
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	if s.Protocol == "https" && (s.TLSCertFile == "" || s.TLSKeyFile == "") {
		errs = append(errs, errors.New("server: protocol https requires tls_cert_file and tls_key_file"))
	}

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("connect_timeout", r.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("data_timeout", r.DataTimeout, minDataTimeout)...)

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	n, err := ParseSize(t.ShardSize)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("shard_size: %w", err))
	case n < minShardBytes || n > maxShardBytes:
		errs = append(errs, fmt.Errorf("shard_size: must be between 64KiB and 4GiB, got %s", t.ShardSize))
	}

	if _, err := ParseSize(trimRateSuffix(t.BandwidthLimit)); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	return errs
}

// validateDuration parses a duration string and enforces a lower bound.
// Empty values fall back to defaults and are accepted.
func validateDuration(field, value string, floor time.Duration) []error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < floor {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, floor, d)}
	}

	return nil
}

// trimRateSuffix strips a trailing "/s" so "5MB/s" parses as a size.
func trimRateSuffix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(s), "/s") {
		return s[:len(s)-len("/s")]
	}

	return s
}
