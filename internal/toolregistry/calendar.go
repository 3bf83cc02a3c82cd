package toolregistry

import (
	"context"
	"fmt"
	"strings"
)

// RegisterCalendarTools registers the built-in scheduling tools available to
// every agent by default (SUPPLEMENT: the original deployment's only two
// domain tools, kept as the registry's bundled starter set).
func RegisterCalendarTools(r *Registry) error {
	if err := r.Register(
		"check_calendar_availability",
		"Check if a specific time slot is available for a meeting.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{"type": "string", "description": "The date to check in YYYY-MM-DD format."},
				"time": map[string]any{"type": "string", "description": "The time to check in HH:MM format (24h)."},
			},
			"required": []string{"date", "time"},
		},
		checkCalendarAvailability,
	); err != nil {
		return err
	}

	return r.Register(
		"book_appointment",
		"Book a meeting for the user.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date":  map[string]any{"type": "string"},
				"time":  map[string]any{"type": "string"},
				"name":  map[string]any{"type": "string", "description": "Name of the person booking"},
				"phone": map[string]any{"type": "string", "description": "Phone number of the person"},
			},
			"required": []string{"date", "time", "name"},
		},
		bookAppointment,
	)
}

// checkCalendarAvailability is a mock lookup: the 10:00 slot is always taken,
// mirroring the reference tool's fixed fixture behaviour.
func checkCalendarAvailability(_ context.Context, args map[string]any) (any, error) {
	timeVal, _ := args["time"].(string)
	if strings.Contains(timeVal, "10:00") {
		return "false", nil
	}
	return "true", nil
}

func bookAppointment(_ context.Context, args map[string]any) (any, error) {
	date, _ := args["date"].(string)
	timeVal, _ := args["time"].(string)
	name, _ := args["name"].(string)
	return fmt.Sprintf("Success. Appointment booked for %s on %s at %s.", name, date, timeVal), nil
}
