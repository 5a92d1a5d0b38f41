package tool

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"
)

// ClockTool reports the current time, optionally in a named zone.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool creates a get_time tool backed by the wall clock.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "get_time" }
func (t *ClockTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone such as Europe/Berlin."
}
func (t *ClockTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name; defaults to UTC",
			},
		},
	}
}

func (t *ClockTool) Execute(_ context.Context, params map[string]any) (string, error) {
	loc := time.UTC
	if name := getStringParam(params, "timezone"); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", name)
		}
		loc = l
	}
	now := t.now().In(loc)
	return fmt.Sprintf("%s (%s, %s)", now.Format("2006-01-02 15:04:05 MST"), now.Weekday(), loc), nil
}
