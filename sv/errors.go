package sv

import "fmt"

// ConfigError marks a configuration problem that is fatal to one object's setup
// (e.g., a render layer) but not to the process or to sibling objects.
type ConfigError struct {
	Object string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.Object, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error of the named object.
func NewConfigError(object string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Object: object, Err: err}
}
