package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/branch-reservation/internal/calendar"
	"github.com/iliyamo/branch-reservation/internal/middleware"
	"github.com/iliyamo/branch-reservation/internal/model"
	"github.com/iliyamo/branch-reservation/internal/service"
)

// ReservationHandler serves the caller's own reservations.  Every route
// sits behind JWTAuth; a reservation belonging to someone else is 403.
type ReservationHandler struct {
	errorMapper
	Ledger *service.Ledger
	Hours  calendar.BusinessHours
}

func NewReservationHandler(ledger *service.Ledger, hours calendar.BusinessHours, log *zap.Logger) *ReservationHandler {
	return &ReservationHandler{errorMapper: errorMapper{log: log}, Ledger: ledger, Hours: hours}
}

// reservationResponse adds the display label to the stored record.
type reservationResponse struct {
	*model.Reservation
	ReceptionLabel string `json:"reception_label"`
}

func respond(l *service.Ledger, r *model.Reservation) reservationResponse {
	return reservationResponse{Reservation: r, ReceptionLabel: l.Label(r.ReceptionNumber)}
}

func respondAll(l *service.Ledger, rs []*model.Reservation) []reservationResponse {
	out := make([]reservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, respond(l, r))
	}
	return out
}

// createRequest takes the slot either as an RFC3339 instant or as a
// date plus HH:MM time in the booking zone.
type createRequest struct {
	CompanyID   string `json:"company_id"`
	BranchID    string `json:"branch_id"`
	ScheduledAt string `json:"scheduled_at"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Notes       string `json:"notes"`
}

func (r createRequest) slot(hours calendar.BusinessHours) (time.Time, error) {
	if r.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, r.ScheduledAt)
		if err != nil {
			return time.Time{}, badRequest("scheduled_at", "must be an RFC3339 timestamp")
		}
		return t, nil
	}
	if r.Date == "" || r.Time == "" {
		return time.Time{}, badRequest("scheduled_at", "is required")
	}
	day, err := hours.ParseDate(r.Date)
	if err != nil {
		return time.Time{}, badRequest("date", "must be YYYY-MM-DD")
	}
	tod, err := calendar.ParseTimeOfDay(r.Time)
	if err != nil {
		return time.Time{}, badRequest("time", "must be HH:MM")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, 0, 0, day.Location()), nil
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid JSON body")
	}
	at, err := req.slot(h.Hours)
	if err != nil {
		return h.handleError(c, err)
	}

	r, err := h.Ledger.Create(c.Request().Context(), service.CreateInput{
		CompanyID:   strings.TrimSpace(req.CompanyID),
		BranchID:    strings.TrimSpace(req.BranchID),
		UserID:      uid,
		ScheduledAt: at,
		Notes:       req.Notes,
	})
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusCreated, respond(h.Ledger, r))
}

// ListMine handles GET /v1/reservations.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	}
	day, err := dateParam(c, h.Hours, nil)
	if err != nil {
		return h.handleError(c, err)
	}
	page, err := pageParams(c)
	if err != nil {
		return h.handleError(c, err)
	}
	rs, err := h.Ledger.ListByUser(c.Request().Context(), service.UserQuery{
		UserID:    uid,
		CompanyID: c.QueryParam("company_id"),
		BranchID:  c.QueryParam("branch_id"),
		Date:      day,
		Status:    statusParam(c),
		Page:      page,
	})
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": respondAll(h.Ledger, rs)})
}

// owned loads :id and checks it belongs to the caller.  On failure the
// response has been written and ok is false.
func (h *ReservationHandler) owned(c echo.Context) (r *model.Reservation, ok bool, err error) {
	uid, authed := middleware.UserID(c)
	if !authed {
		return nil, false, writeError(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	}
	r, err = h.Ledger.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, false, h.handleError(c, err)
	}
	if r.UserID != uid {
		return nil, false, writeError(c, http.StatusForbidden, codeForbidden, "not your reservation")
	}
	return r, true, nil
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	r, ok, err := h.owned(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, respond(h.Ledger, r))
}

type updateRequest struct {
	Notes  *string                  `json:"notes"`
	Status *model.ReservationStatus `json:"status"`
}

// Update handles PATCH /v1/reservations/:id.
func (h *ReservationHandler) Update(c echo.Context) error {
	r, ok, err := h.owned(c)
	if !ok {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid JSON body")
	}
	updated, err := h.Ledger.Update(c.Request().Context(), r.ID, service.Patch{Notes: req.Notes, Status: req.Status})
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, respond(h.Ledger, updated))
}

// Delete handles DELETE /v1/reservations/:id.
func (h *ReservationHandler) Delete(c echo.Context) error {
	r, ok, err := h.owned(c)
	if !ok {
		return err
	}
	if err := h.Ledger.Delete(c.Request().Context(), r.ID); err != nil {
		return h.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
