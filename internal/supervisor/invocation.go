package supervisor

import (
	"strconv"
	"strings"

	"servectl/internal/registry"
	"servectl/pkg/types"
)

// BuildInvocation renders the engine command line for a profile. The result
// depends only on its inputs: flags appear in a fixed order, the tool parser
// only when set, and extra flags last and verbatim.
func BuildInvocation(cfg Config, p types.Profile) []string {
	args := append([]string(nil), cfg.Command...)
	args = append(args,
		"--model-path", p.ModelID,
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--context-length", strconv.Itoa(p.ContextLength),
		"--max-running-requests", strconv.Itoa(p.MaxConcurrentRequests),
		"--mem-fraction-static", formatFraction(p.MemoryFraction),
		"--dtype", cfg.DType,
	)
	if p.ToolParser != "" {
		args = append(args, "--tool-call-parser", p.ToolParser)
	}
	return append(args, p.ExtraFlags...)
}

// formatFraction prints f exactly, with at least two decimals (0.9 -> "0.90",
// 0.875 -> "0.875").
func formatFraction(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s + ".00"
	}
	if d := len(s) - dot - 1; d < 2 {
		s += strings.Repeat("0", 2-d)
	}
	return s
}

// Validate rejects profiles that cannot be launched. The error satisfies
// registry.IsInvalidProfile.
func Validate(p types.Profile) error { return registry.Validate(p) }
