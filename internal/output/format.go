// Package output provides CLI output helpers for human and JSON
// modes.
package output

import "sync/atomic"

// Mode is the global output mode used by the convenience helpers.
type Mode string

// Output modes.
const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

var mode atomic.Value

func init() {
	mode.Store(ModeText)
}

// SetJSON sets the global output mode.
func SetJSON(json bool) {
	if json {
		mode.Store(ModeJSON)
		return
	}
	mode.Store(ModeText)
}

// GetMode returns the current global output mode.
func GetMode() Mode {
	if v, ok := mode.Load().(Mode); ok {
		return v
	}
	return ModeText
}

// IsJSON returns true if the global output mode is JSON.
func IsJSON() bool {
	return GetMode() == ModeJSON
}
