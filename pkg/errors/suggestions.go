package errors

import "sort"

// Registry maps error codes to their remediation suggestions.
type Registry struct {
	suggestions map[string][]Suggestion
}

// Suggestion is a remediation hint, ordered by Priority (highest first).
type Suggestion struct {
	Text     string
	Priority int
}

// NewRegistry creates a new suggestion registry.
func NewRegistry() *Registry {
	return &Registry{suggestions: make(map[string][]Suggestion)}
}

// Register adds a suggestion for an error code.
func (r *Registry) Register(code, text string) *Registry {
	return r.RegisterWithPriority(code, text, 0)
}

// RegisterWithPriority adds a suggestion with explicit priority.
func (r *Registry) RegisterWithPriority(code, text string, priority int) *Registry {
	r.suggestions[code] = append(r.suggestions[code], Suggestion{Text: text, Priority: priority})
	return r
}

// Get returns the suggestion texts for code, highest priority first.
func (r *Registry) Get(code string) []string {
	all := append([]Suggestion(nil), r.suggestions[code]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority > all[j].Priority })
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.Text
	}
	return out
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global registry with built-in suggestions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func init() {
	defaultRegistry.
		Register(ErrConfigNotFound, "Run 'reflex init' to write a default config.yaml").
		Register(ErrConfigParseFailed, "Check the YAML syntax; unknown keys are rejected").
		RegisterWithPriority(ErrConfigInvalid, "Compare the value against the defaults written by 'reflex init'", 1).
		Register(ErrConfigWriteFailed, "Check that the config directory is writable").
		Register(ErrEthicsAbort, "Inspect the last step record; the certificate for this run is marked invalid").
		Register(ErrStatsTooFewSeeds, "Pass at least two seeds with --seeds").
		Register(ErrStatsDegenerate, "Increase steps per run or vary the seeds; every slope was identical").
		Register(ErrStoreOpenFailed, "Check store.path and that its directory exists").
		Register(ErrStoreWriteFailed, "Another process may hold the database lock").
		Register(ErrMonitorStartFailed, "Choose a free port with monitor.port").
		Register(ErrCommandNotFound, "Type 'help' to list commands")
}

// AttachSuggestions adds suggestions from the registry to a ReflexError.
func AttachSuggestions(err *ReflexError) *ReflexError {
	if err == nil {
		return nil
	}
	err.Suggestions = append(err.Suggestions, defaultRegistry.Get(err.Code)...)
	return err
}
