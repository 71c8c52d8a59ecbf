package registry

import "servectl/pkg/types"

// builtinProfiles is the table the launch scripts shipped with.
var builtinProfiles = []types.Profile{
	{
		Key:                   "llama",
		ModelID:               "meta-llama/Llama-3.1-8B-Instruct",
		DisplayName:           "Llama 3.1 8B Instruct",
		ContextLength:         65536,
		MaxConcurrentRequests: 2,
		MemoryFraction:        0.90,
		ToolParser:            "llama3",
	},
	{
		Key:                   "qwen",
		ModelID:               "Qwen/Qwen2.5-7B-Instruct",
		DisplayName:           "Qwen 2.5 7B Instruct",
		ContextLength:         32768,
		MaxConcurrentRequests: 1,
		MemoryFraction:        0.85,
		ToolParser:            "qwen",
	},
	{
		Key:                   "mistral",
		ModelID:               "mistralai/Mistral-7B-Instruct-v0.3",
		DisplayName:           "Mistral 7B Instruct v0.3",
		ContextLength:         32768,
		MaxConcurrentRequests: 2,
		MemoryFraction:        0.88,
		ToolParser:            "mistral",
	},
	{
		Key:                   "deepseek",
		ModelID:               "deepseek-ai/DeepSeek-R1-Distill-Qwen-7B",
		DisplayName:           "DeepSeek R1 Distill Qwen 7B",
		ContextLength:         32768,
		MaxConcurrentRequests: 1,
		MemoryFraction:        0.85,
		ExtraFlags:            []string{"--reasoning-parser", "deepseek-r1"},
	},
}

// Builtin returns a registry of the compiled-in profiles.
func Builtin() *Registry { return MustNew(builtinProfiles...) }
