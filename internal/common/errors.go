package common

import "fmt"

// ConfigError reports a missing, unreadable or invalid configuration.
type ConfigError struct {
	Path string // the file involved, empty when the error is not file-bound
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration error in %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
