package dispatch

import (
	"encoding/json"
	"fmt"
)

// Command kinds understood by the dispatcher.
const (
	KindRestartSubsystem = "restart_subsystem"
	KindClearQueue       = "clear_queue"
	KindFixDevice        = "fix_device"
	KindTestOutput       = "test_output"
	KindGetStatus        = "get_status"
	KindInstallDriver    = "install_driver"
	KindUpdateDriver     = "update_driver"
)

// Command is a dashboard-issued instruction. ID is the correlation key:
// every accepted command yields exactly one CommandResult carrying it.
type Command struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	PrinterName string         `json:"printerName,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// UnmarshalJSON normalizes the correlation ID: dashboards send it as either
// a JSON string or a number.
func (c *Command) UnmarshalJSON(data []byte) error {
	type alias Command
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.ID) > 0 {
		var s string
		if err := json.Unmarshal(aux.ID, &s); err == nil {
			c.ID = s
		} else {
			var n json.Number
			if err := json.Unmarshal(aux.ID, &n); err != nil {
				return fmt.Errorf("command id must be a string or number: %s", aux.ID)
			}
			c.ID = n.String()
		}
	}
	return nil
}

// CommandResult is the single correlated outcome of a command. ActionsTaken
// lists every remediation step that actually ran, in order, so partial
// progress stays visible to the dashboard operator even when a later step
// fails.
type CommandResult struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	PrinterName  string   `json:"printerName,omitempty"`
	ActionsTaken []string `json:"actionsTaken,omitempty"`
}

// Payload helpers

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
