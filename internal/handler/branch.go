package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/branch-reservation/internal/calendar"
	"github.com/iliyamo/branch-reservation/internal/clock"
	"github.com/iliyamo/branch-reservation/internal/service"
)

// BranchHandler serves the per-branch views under
// /v1/companies/:company_id/branches/:branch_id.
type BranchHandler struct {
	errorMapper
	Ledger *service.Ledger
	Index  *service.Availability
	Hours  calendar.BusinessHours
	Clock  clock.Clock
}

func NewBranchHandler(ledger *service.Ledger, av *service.Availability, hours calendar.BusinessHours, clk clock.Clock, log *zap.Logger) *BranchHandler {
	return &BranchHandler{errorMapper: errorMapper{log: log}, Ledger: ledger, Index: av, Hours: hours, Clock: clk}
}

// day reads ?date=, defaulting to today in the booking zone.
func (h *BranchHandler) day(c echo.Context) (time.Time, error) {
	today := h.Clock.Today()
	d, err := dateParam(c, h.Hours, &today)
	if err != nil {
		return time.Time{}, err
	}
	return *d, nil
}

type slotsResponse struct {
	CompanyID string   `json:"company_id"`
	BranchID  string   `json:"branch_id"`
	Date      string   `json:"date"`
	Slots     []string `json:"slots"`
}

// Slots handles GET .../slots.
func (h *BranchHandler) Slots(c echo.Context) error {
	day, err := h.day(c)
	if err != nil {
		return h.handleError(c, err)
	}
	slots, err := h.Index.Slots(c.Request().Context(), c.Param("company_id"), c.Param("branch_id"), day)
	if err != nil {
		return h.handleError(c, err)
	}
	out := slotsResponse{
		CompanyID: c.Param("company_id"),
		BranchID:  c.Param("branch_id"),
		Date:      h.Hours.DateString(day),
		Slots:     make([]string, 0, len(slots)),
	}
	for _, s := range slots {
		out.Slots = append(out.Slots, h.Hours.Clock(s))
	}
	return c.JSON(http.StatusOK, out)
}

// Availability handles GET .../availability.
func (h *BranchHandler) Availability(c echo.Context) error {
	day, err := h.day(c)
	if err != nil {
		return h.handleError(c, err)
	}
	slots, err := h.Index.Availability(c.Request().Context(), c.Param("company_id"), c.Param("branch_id"), day)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"date": h.Hours.DateString(day), "slots": slots})
}

// Summary handles GET .../summary.
func (h *BranchHandler) Summary(c echo.Context) error {
	day, err := h.day(c)
	if err != nil {
		return h.handleError(c, err)
	}
	sum, err := h.Ledger.DailySummary(c.Request().Context(), c.Param("company_id"), c.Param("branch_id"), day)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// Reservations handles GET .../reservations, the whole branch history or
// one day of it with ?date=, optionally filtered by ?status=.
func (h *BranchHandler) Reservations(c echo.Context) error {
	page, err := pageParams(c)
	if err != nil {
		return h.handleError(c, err)
	}
	day, err := dateParam(c, h.Hours, nil)
	if err != nil {
		return h.handleError(c, err)
	}
	list, err := h.Ledger.ListByBranch(c.Request().Context(), service.BranchQuery{
		CompanyID: c.Param("company_id"),
		BranchID:  c.Param("branch_id"),
		Date:      day,
		Status:    statusParam(c),
		Page:      page,
	})
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": respondAll(h.Ledger, list)})
}
