// Package errors provides error code constants for reflex.
package errors

// -----------------------------------------------------------------------------
// Configuration Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = "CONFIG_NOT_FOUND"

	// ErrConfigParseFailed indicates the configuration file could not be parsed.
	// Unknown keys are reported with this code as well.
	ErrConfigParseFailed = "CONFIG_PARSE_FAILED"

	// ErrConfigInvalid indicates a configuration value is missing or out of bounds.
	ErrConfigInvalid = "CONFIG_INVALID"

	// ErrConfigWriteFailed indicates the config file could not be written.
	ErrConfigWriteFailed = "CONFIG_WRITE_FAILED"
)

// -----------------------------------------------------------------------------
// Run Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrSignalShapeMismatch indicates an observation whose vectors do not
	// match the configured vocabulary size.
	ErrSignalShapeMismatch = "SIGNAL_SHAPE_MISMATCH"

	// ErrEthicsAbort indicates the ethics guard terminated the run.
	ErrEthicsAbort = "ETHICS_ABORT"

	// ErrModelForwardFailed indicates the sequence model failed to produce a step.
	ErrModelForwardFailed = "MODEL_FORWARD_FAILED"

	// ErrRunCanceled indicates the run context was canceled between steps.
	ErrRunCanceled = "RUN_CANCELED"
)

// -----------------------------------------------------------------------------
// Statistics Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrStatsTooFewSeeds indicates fewer than two seeds were supplied.
	ErrStatsTooFewSeeds = "STATS_TOO_FEW_SEEDS"

	// ErrStatsDegenerate indicates the per-seed slopes carry no variance.
	ErrStatsDegenerate = "STATS_DEGENERATE"
)

// -----------------------------------------------------------------------------
// Store, Network, IO and Command Error Codes
// -----------------------------------------------------------------------------

const (
	ErrStoreOpenFailed  = "STORE_OPEN_FAILED"
	ErrStoreWriteFailed = "STORE_WRITE_FAILED"
	ErrStoreReadFailed  = "STORE_READ_FAILED"
	ErrStoreNotFound    = "STORE_NOT_FOUND"

	ErrMonitorStartFailed = "MONITOR_START_FAILED"

	ErrIOWriteFailed = "IO_WRITE_FAILED"

	ErrCommandNotFound    = "COMMAND_NOT_FOUND"
	ErrCommandMissingArgs = "COMMAND_MISSING_ARGS"
	ErrCommandInvalidArg  = "COMMAND_INVALID_ARG"
	ErrShellInitFailed    = "SHELL_INIT_FAILED"
)

// CodeCategory returns the category for a given error code.
// Returns CategoryInternal if the code is not recognized.
func CodeCategory(code string) Category {
	switch code {
	case ErrConfigNotFound, ErrConfigParseFailed, ErrConfigInvalid, ErrConfigWriteFailed:
		return CategoryConfig
	case ErrSignalShapeMismatch:
		return CategorySignal
	case ErrEthicsAbort:
		return CategoryEthics
	case ErrModelForwardFailed, ErrRunCanceled:
		return CategoryModel
	case ErrStatsTooFewSeeds, ErrStatsDegenerate:
		return CategoryStats
	case ErrStoreOpenFailed, ErrStoreWriteFailed, ErrStoreReadFailed, ErrStoreNotFound:
		return CategoryStore
	case ErrMonitorStartFailed:
		return CategoryNetwork
	case ErrIOWriteFailed:
		return CategoryIO
	case ErrCommandNotFound, ErrCommandMissingArgs, ErrCommandInvalidArg, ErrShellInitFailed:
		return CategoryCommand
	default:
		return CategoryInternal
	}
}
