package errors

import "fmt"

// Config creates a configuration error with auto-attached suggestions.
func Config(code, message string) *ReflexError {
	return AttachSuggestions(New(code, CategoryConfig, message))
}

// Configf creates a configuration error with a formatted message.
func Configf(code, format string, args ...interface{}) *ReflexError {
	return Config(code, fmt.Sprintf(format, args...))
}

// ConfigWrap wraps an error as a configuration error.
func ConfigWrap(cause error, code, message string) *ReflexError {
	return AttachSuggestions(Wrap(cause, code, CategoryConfig, message))
}

// ConfigInvalid reports a single out-of-range or missing configuration field.
func ConfigInvalid(field, reason string) *ReflexError {
	return Configf(ErrConfigInvalid, "invalid configuration value for %s", field).
		WithContext("field", field).
		WithContext("reason", reason)
}

// Stats creates a statistics error with auto-attached suggestions.
func Stats(code, message string) *ReflexError {
	return AttachSuggestions(New(code, CategoryStats, message))
}

// Statsf creates a statistics error with a formatted message.
func Statsf(code, format string, args ...interface{}) *ReflexError {
	return Stats(code, fmt.Sprintf(format, args...))
}

// EthicsAbort reports a run terminated by the ethics guard at step t.
func EthicsAbort(step int, reason string) *ReflexError {
	return AttachSuggestions(New(ErrEthicsAbort, CategoryEthics, "run aborted by ethics guard")).
		WithContext("step", fmt.Sprintf("%d", step)).
		WithContext("reason", reason)
}

// ModelWrap wraps a sequence model failure.
func ModelWrap(cause error, step int) *ReflexError {
	return Wrap(cause, ErrModelForwardFailed, CategoryModel, "sequence model forward pass failed").
		WithContext("step", fmt.Sprintf("%d", step))
}

// StoreWrap wraps a persistence failure.
func StoreWrap(cause error, code, message string) *ReflexError {
	return AttachSuggestions(Wrap(cause, code, CategoryStore, message))
}

// StoreNotFound reports a missing run or certificate.
func StoreNotFound(kind, id string) *ReflexError {
	return New(ErrStoreNotFound, CategoryStore, kind+" not found").WithContext("id", id)
}

// IOWrap wraps a file/IO failure.
func IOWrap(cause error, code, message string) *ReflexError {
	return AttachSuggestions(Wrap(cause, code, CategoryIO, message))
}

// NetworkWrap wraps a monitor server failure.
func NetworkWrap(cause error, code, message string) *ReflexError {
	return AttachSuggestions(Wrap(cause, code, CategoryNetwork, message))
}

// CommandNotFound reports an unknown inspect shell command.
func CommandNotFound(cmd string) *ReflexError {
	return AttachSuggestions(New(ErrCommandNotFound, CategoryCommand, "unknown command: "+cmd)).
		WithContext("command", cmd)
}

// CommandMissingArgs reports a shell command invoked without required arguments.
func CommandMissingArgs(cmd, usage string) *ReflexError {
	return New(ErrCommandMissingArgs, CategoryCommand, "missing arguments for "+cmd).
		WithContext("command", cmd).
		WithSuggestion("Usage: " + usage)
}

// CommandInvalidArg reports an argument that could not be parsed.
func CommandInvalidArg(arg, expected string) *ReflexError {
	return New(ErrCommandInvalidArg, CategoryCommand, "invalid argument: "+arg).
		WithContext("expected", expected)
}
