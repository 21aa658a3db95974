package message

import "time"

// Log verbosity levels carried by LogEntry.
const (
	LogDisabled = iota
	LogStandard
	LogVerbose
	LogMoreVerbose
)

// LogEntry is the payload of a ControlLog message.
type LogEntry struct {
	Text    string `json:"text"`
	Level   int    `json:"level"`
	IsError bool   `json:"is_error"`
}

// Warning is the payload of a ControlWarning message.
type Warning struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// ErrorReport is the payload of a ControlError message.
type ErrorReport struct {
	Description string `json:"description"`
	Trace       string `json:"trace,omitempty"`
	Source      string `json:"source,omitempty"`
}

// ReportRequest is the payload of a ControlStartReport message.
// The audit times are zero when unknown.
type ReportRequest struct {
	OutputFile string    `json:"output_file"`
	StartTime  time.Time `json:"start_time,omitzero"`
	StopTime   time.Time `json:"stop_time,omitzero"`
	OnlyVulns  bool      `json:"only_vulns,omitempty"`
}
