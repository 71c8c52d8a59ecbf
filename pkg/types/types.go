package types

// Profile is a named bundle of launch parameters for one deployable model.
type Profile struct {
	// Short identifier used on the command line.
	// example: llama
	Key string `json:"key" yaml:"key" toml:"key" example:"llama"`
	// Model artifact or repository, passed verbatim to the engine.
	// example: meta-llama/Llama-3.1-8B-Instruct
	ModelID string `json:"model_id" yaml:"model_id" toml:"model_id" example:"meta-llama/Llama-3.1-8B-Instruct"`
	// Human-friendly name.
	// example: Llama 3.1 8B Instruct
	DisplayName string `json:"display_name" yaml:"display_name" toml:"display_name" example:"Llama 3.1 8B Instruct"`
	// Maximum token window.
	// example: 65536
	ContextLength int `json:"context_length" yaml:"context_length" toml:"context_length" example:"65536"`
	// Admission ceiling for simultaneous in-flight requests.
	// example: 2
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests" toml:"max_concurrent_requests" example:"2"`
	// Fraction of accelerator memory the engine may reserve, in (0,1].
	// example: 0.9
	MemoryFraction float64 `json:"memory_fraction" yaml:"memory_fraction" toml:"memory_fraction" example:"0.9"`
	// Optional function-calling parser; empty disables tool calling.
	// example: llama3
	ToolParser string `json:"tool_parser,omitempty" yaml:"tool_parser,omitempty" toml:"tool_parser,omitempty" example:"llama3"`
	// Extra engine arguments appended in order.
	ExtraFlags []string `json:"extra_flags,omitempty" yaml:"extra_flags,omitempty" toml:"extra_flags,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry-owned slices.
func (p Profile) Clone() Profile {
	out := p
	if p.ExtraFlags != nil {
		out.ExtraFlags = append([]string(nil), p.ExtraFlags...)
	}
	return out
}
