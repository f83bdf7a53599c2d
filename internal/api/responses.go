package api

// StatusResponse is the response for GET /api/v1/status
type StatusResponse struct {
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CollectorPID  int    `json:"collector_pid"`
	LogFile       string `json:"log_file"`
	LinesSeen     int64  `json:"lines_seen"`
	LinesEmitted  int64  `json:"lines_emitted"`
	APIVersion    string `json:"api_version"`
}

// FilterResponse is the response for GET /api/v1/filter
type FilterResponse struct {
	PIDs        []int  `json:"pids"`
	Pattern     string `json:"pattern,omitempty"`
	IsRegex     bool   `json:"is_regex,omitempty"`
	Passthrough bool   `json:"passthrough"`
	Description string `json:"description"`
}

// ErrorResponse is the error envelope for API failures
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
