package http

import (
	"net/http"
	"time"

	xutil "FluxDash/pkg/util"
)

// ParseRange parses optional from/to query bounds into a 400 on failure.
func ParseRange(from, to string) (time.Time, time.Time, *AppError) {
	f, t, ok := xutil.ParseRange(from, to)
	if !ok {
		return time.Time{}, time.Time{}, NewAppError(CodeInvalidRange, "from",
			"from/to must be RFC3339, YYYY-MM-DD or unix millis, with from <= to", http.StatusBadRequest).
			WithParam("from", from).WithParam("to", to)
	}
	return f, t, nil
}
