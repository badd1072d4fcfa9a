package topology

import (
	"fmt"
	"strings"
)

// ConfigurationError is a build-time error detected locally: an invalid
// value, a missing required field, or a reference to something that does
// not exist. It is fatal to the build and never retried.
type ConfigurationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("configuration error: %s: %s: %s", e.Entity, e.Field, e.Reason)
	case e.Entity != "":
		return fmt.Sprintf("configuration error: %s: %s", e.Entity, e.Reason)
	}
	return "configuration error: " + e.Reason
}

func configErrorf(entity, field, format string, args ...interface{}) error {
	return &ConfigurationError{Entity: entity, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DependencyError is raised while finalizing when the declared entities
// cannot be ordered: a cycle exists or a forward reference never resolved.
type DependencyError struct {
	// Cycle is a closed path of step ids, first element repeated last.
	Cycle []string
	// Unresolved lists "policy -> missing source" references.
	Unresolved []string
	Err        error
}

func (e *DependencyError) Error() string {
	var parts []string
	if len(e.Cycle) > 0 {
		parts = append(parts, "dependency cycle: "+strings.Join(e.Cycle, " -> "))
	}
	if len(e.Unresolved) > 0 {
		parts = append(parts, "unresolved references: "+strings.Join(e.Unresolved, ", "))
	}
	if len(parts) == 0 && e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return "dependency error: " + strings.Join(parts, "; ")
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
