package models

import "strings"

// Fixed BIDS entities for scalp EEG recordings.
const (
	DatatypeEEG  = "eeg"
	ExtensionEDF = ".edf"
)

// Recording identifies one source recording inside a BIDS dataset.
// An empty Session, Task or Run means the dataset has no value on that axis.
type Recording struct {
	Subject string `json:"subject"`
	Session string `json:"session,omitempty"`
	Task    string `json:"task,omitempty"`
	Run     string `json:"run,omitempty"`
}

// String returns a compact human-readable identifier such as "sub-01/run-01".
func (r Recording) String() string {
	parts := []string{"sub-" + r.Subject}
	if r.Session != "" {
		parts = append(parts, "ses-"+r.Session)
	}
	if r.Task != "" {
		parts = append(parts, "task-"+r.Task)
	}
	if r.Run != "" {
		parts = append(parts, "run-"+r.Run)
	}
	return strings.Join(parts, "/")
}
