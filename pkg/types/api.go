package types

// ProfilesResponse wraps the list of profiles returned by GET /profiles.
type ProfilesResponse struct {
	// Registered profiles in registration order.
	Profiles []Profile `json:"profiles"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: supervisor not running
	Error string `json:"error" example:"supervisor not running"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Supervisor lifecycle state (idle, launching, running, stopping, crashed).
	// example: running
	State string `json:"state" example:"running"`
	// Key of the profile the server was launched with.
	// example: llama
	Profile string `json:"profile,omitempty" example:"llama"`
	// Model identifier passed to the engine.
	// example: meta-llama/Llama-3.1-8B-Instruct
	ModelID string `json:"model_id,omitempty" example:"meta-llama/Llama-3.1-8B-Instruct"`
	// Launch run identifier.
	// example: 3f0c1f8e-4a57-4a3c-9a55-2c3c1a7f2b10
	RunID string `json:"run_id,omitempty" example:"3f0c1f8e-4a57-4a3c-9a55-2c3c1a7f2b10"`
	// Process ID of the managed engine.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// TCP port the engine is bound to.
	// example: 30000
	Port int `json:"port,omitempty" example:"30000"`
	// Exact invocation used to start the engine.
	Invocation []string `json:"invocation,omitempty"`
	// Exit code of the last crashed process, if any.
	// example: 1
	ExitCode int `json:"exit_code,omitempty" example:"1"`
	// Last error observed by the supervisor (if any).
	LastError string `json:"last_error,omitempty"`
	// Seconds since the engine was started.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Free accelerator memory in MiB at the last reconciliation.
	// example: 22000
	AcceleratorFreeMiB int `json:"accelerator_free_mib" example:"22000"`
}
