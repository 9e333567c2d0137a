package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.InstanceID == "" {
		errs = append(errs, ValidationError{
			Field:   KeyInstanceID,
			Message: "required",
		})
	}

	if cfg.ThreadCount <= 0 {
		errs = append(errs, ValidationError{
			Field:   KeyThreadCount,
			Message: fmt.Sprintf("must be positive, got %d", cfg.ThreadCount),
		})
	}

	if cfg.IdleWaitTime <= 0 {
		errs = append(errs, ValidationError{
			Field:   KeyIdleWaitTime,
			Message: "must be positive",
		})
	}

	if cfg.MaxBatchSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   KeyBatchMaxCount,
			Message: fmt.Sprintf("must be positive, got %d", cfg.MaxBatchSize),
		})
	}

	if cfg.MisfireThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   KeyMisfireThreshold,
			Message: "must not be negative",
		})
	}

	if cfg.EventBusBufferSize < 0 {
		errs = append(errs, ValidationError{
			Field:   KeyEventBusBufferSize,
			Message: "must not be negative",
		})
	}

	// Driver must be memory, postgres or sqlite
	switch cfg.JobStoreDriver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if cfg.DataSourceURL == "" {
			errs = append(errs, ValidationError{
				Field:   KeyDataSourceURL,
				Message: fmt.Sprintf("required for %s job store", cfg.JobStoreDriver),
			})
		}
		if cfg.MaxConnections <= 0 {
			errs = append(errs, ValidationError{
				Field:   KeyDataSourceMaxConns,
				Message: "must be positive",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   KeyJobStoreDriver,
			Message: fmt.Sprintf("must be 'memory', 'postgres' or 'sqlite', got %q", cfg.JobStoreDriver),
		})
	}

	if !validTablePrefix(cfg.TablePrefix) {
		errs = append(errs, ValidationError{
			Field:   KeyTablePrefix,
			Message: fmt.Sprintf("must contain only letters, digits and underscores, got %q", cfg.TablePrefix),
		})
	}

	if cfg.Clustered {
		if cfg.JobStoreDriver != DriverPostgres {
			errs = append(errs, ValidationError{
				Field:   KeyIsClustered,
				Message: "clustering requires the postgres job store",
			})
		}
		if cfg.ClusterCheckinInterval <= 0 {
			errs = append(errs, ValidationError{
				Field:   KeyClusterCheckinInterval,
				Message: "must be positive",
			})
		}
		if cfg.InstanceID == InstanceIDNonClustered {
			errs = append(errs, ValidationError{
				Field:   KeyInstanceID,
				Message: "clustered instances need a unique id (use AUTO)",
			})
		}
	}

	// shutdown.drainTimeout must be a valid duration
	if cfg.DrainTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.DrainTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   KeyDrainTimeout,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   KeyDrainTimeout,
				Message: "must be positive",
			})
		}
	}

	if cfg.MetricsEnabled && cfg.MetricsAddr == "" {
		errs = append(errs, ValidationError{
			Field:   KeyMetricsAddr,
			Message: "required when metrics are enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validTablePrefix reports whether p is safe to splice into table names.
func validTablePrefix(p string) bool {
	for _, c := range p {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
