package handler // handler defines http handlers

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxPlateLen matches the vehicle_number column width.
const maxPlateLen = 32

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// normalizePlate trims and upper-cases a license plate.  The second
// result is false for empty or oversized plates.
func normalizePlate(raw string) (string, bool) {
	p := strings.ToUpper(strings.TrimSpace(raw))
	if p == "" || len(p) > maxPlateLen {
		return "", false
	}
	return p, true
}

// errorBody builds the JSON error payload shared by all handlers.
func errorBody(msg string, extra ...any) map[string]any {
	out := map[string]any{"error": msg}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			out[k] = extra[i+1]
		}
	}
	return out
}
