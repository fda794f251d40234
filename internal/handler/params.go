package handler

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/branch-reservation/internal/calendar"
	"github.com/iliyamo/branch-reservation/internal/model"
	"github.com/iliyamo/branch-reservation/internal/service"
)

func badRequest(field, reason string) error {
	return &service.ValidationError{Field: field, Reason: reason}
}

// dateParam parses ?date=YYYY-MM-DD in the booking zone.  When absent it
// returns def, or nil if def is nil.
func dateParam(c echo.Context, hours calendar.BusinessHours, def *time.Time) (*time.Time, error) {
	s := c.QueryParam("date")
	if s == "" {
		return def, nil
	}
	d, err := hours.ParseDate(s)
	if err != nil {
		return nil, badRequest("date", "must be YYYY-MM-DD")
	}
	return &d, nil
}

func pageParams(c echo.Context) (service.Page, error) {
	var p service.Page
	if s := c.QueryParam("skip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return p, badRequest("skip", "must be an integer")
		}
		p.Skip = n
	}
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n == 0 {
			return p, badRequest("limit", "must be an integer between 1 and 100")
		}
		p.Limit = n
	}
	return p, nil
}

func statusParam(c echo.Context) model.ReservationStatus {
	return model.ReservationStatus(c.QueryParam("status"))
}
