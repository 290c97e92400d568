package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/service"
)

// ReservationHandler exposes the coordinator over HTTP.  It carries no
// state of its own; every decision is made by the coordinator.
type ReservationHandler struct {
	Coord *service.Coordinator
	// RetryAfter is the Retry-After value, in seconds, sent with 503
	// answers.  Zero means 1.
	RetryAfter int
}

// NewReservationHandler panics on a nil coordinator, like the other
// constructors in this package.
func NewReservationHandler(coord *service.Coordinator) *ReservationHandler {
	if coord == nil {
		panic("nil coordinator passed to NewReservationHandler")
	}
	return &ReservationHandler{Coord: coord}
}

type reserveRequest struct {
	UserID           string `json:"user_id"`
	IdempotencyToken string `json:"idempotency_token"`
}

type cancelRequest struct {
	UserID string `json:"user_id" query:"user_id"`
}

type transferRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

type moveRequest struct {
	UserID           string `json:"user_id"`
	ToSeat           string `json:"to_seat"`
	IdempotencyToken string `json:"idempotency_token"`
}

// reservationView is the JSON body of reserve answers.
type reservationView struct {
	Status     string `json:"status"`
	MovieName  string `json:"movie_name"`
	Seat       string `json:"seat"`
	UserID     string `json:"user_id,omitempty"`
	Occupant   string `json:"occupant,omitempty"`
	Token      string `json:"idempotency_token,omitempty"`
	Replayed   bool   `json:"replayed"`
	Reconciled bool   `json:"reconciled"`
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

type cancelView struct {
	Status     string `json:"status"`
	MovieName  string `json:"movie_name"`
	Seat       string `json:"seat"`
	UserID     string `json:"user_id,omitempty"`
	Occupant   string `json:"occupant,omitempty"`
	Reconciled bool   `json:"reconciled"`
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func viewReservation(o service.ReservationOutcome) reservationView {
	v := reservationView{
		Status: o.Status.String(), MovieName: o.MovieName, Seat: o.Seat, UserID: o.UserID,
		Occupant: o.Occupant, Token: o.Token, Replayed: o.Replayed, Reconciled: o.Reconciled,
		Attempts: o.Attempts, Reason: string(o.Reason),
	}
	if err := o.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func viewCancel(o service.CancelOutcome) cancelView {
	v := cancelView{
		Status: o.Status.String(), MovieName: o.MovieName, Seat: o.Seat, UserID: o.UserID,
		Occupant: o.Occupant, Reconciled: o.Reconciled, Attempts: o.Attempts, Reason: string(o.Reason),
	}
	if err := o.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// Reserve handles POST /v1/movies/:movie/seats/:seat/reservation.  The
// idempotency token may come from the body or the Idempotency-Key header;
// replaying a request with the same token is always safe.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	var body reserveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.IdempotencyToken == "" {
		body.IdempotencyToken = strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	}
	out := h.Coord.Reserve(c.Request().Context(), model.ReservationIntent{
		MovieName:        pathParam(c, "movie"),
		SeatLabel:        pathParam(c, "seat"),
		UserID:           body.UserID,
		IdempotencyToken: body.IdempotencyToken,
	})
	switch out.Status {
	case service.Confirmed:
		code := http.StatusCreated
		if out.Replayed {
			code = http.StatusOK
		}
		return c.JSON(code, viewReservation(out))
	case service.AlreadyTaken:
		return c.JSON(http.StatusConflict, viewReservation(out))
	}
	return c.JSON(h.failureCode(c, out.Reason, out.Err()), viewReservation(out))
}

// Cancel handles DELETE /v1/movies/:movie/seats/:seat/reservation.  The
// user id is read from ?user_id= or a JSON body.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	var body cancelRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	out := h.Coord.Cancel(c.Request().Context(), pathParam(c, "movie"), pathParam(c, "seat"), body.UserID)
	switch out.Status {
	case service.Released:
		return c.JSON(http.StatusOK, viewCancel(out))
	case service.NotOwner:
		return c.JSON(http.StatusConflict, viewCancel(out))
	case service.NotFound:
		return c.JSON(http.StatusNotFound, viewCancel(out))
	}
	return c.JSON(h.failureCode(c, out.Reason, out.Err()), viewCancel(out))
}

// Transfer handles POST /v1/movies/:movie/seats/:seat/transfer.
func (h *ReservationHandler) Transfer(c echo.Context) error {
	var body transferRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	out := h.Coord.Transfer(c.Request().Context(), pathParam(c, "movie"), pathParam(c, "seat"), body.FromUserID, body.ToUserID)
	resp := echo.Map{"status": out.Status.String(), "cancel": viewCancel(out.Cancel)}
	if out.Reserve.Status != 0 {
		resp["reserve"] = viewReservation(out.Reserve)
	}
	if err := out.Err(); err != nil {
		resp["error"] = err.Error()
	}
	switch out.Status {
	case service.Transferred:
		return c.JSON(http.StatusOK, resp)
	case service.TransferNotHeld:
		if out.Cancel.Status == service.NotFound {
			return c.JSON(http.StatusNotFound, resp)
		}
		return c.JSON(http.StatusConflict, resp)
	case service.TransferLost:
		return c.JSON(http.StatusConflict, resp)
	}
	reason := out.Cancel.Reason
	if out.Reserve.Status == service.ReservationFailed {
		reason = out.Reserve.Reason
	}
	return c.JSON(h.failureCode(c, reason, out.Err()), resp)
}

// Move handles POST /v1/movies/:movie/seats/:seat/move, changing the
// user's seat to to_seat.
func (h *ReservationHandler) Move(c echo.Context) error {
	var body moveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.IdempotencyToken == "" {
		body.IdempotencyToken = strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	}
	out := h.Coord.Move(c.Request().Context(), pathParam(c, "movie"), pathParam(c, "seat"), body.ToSeat, body.UserID, body.IdempotencyToken)
	resp := echo.Map{"status": out.Status.String()}
	if out.Reserve.Status != 0 {
		resp["reserve"] = viewReservation(out.Reserve)
	}
	if out.Release.Status != 0 {
		resp["release"] = viewCancel(out.Release)
	}
	if out.Rollback != nil {
		resp["rollback"] = viewCancel(*out.Rollback)
	}
	if err := out.Err(); err != nil {
		resp["error"] = err.Error()
	}
	switch out.Status {
	case service.MoveCompleted:
		return c.JSON(http.StatusOK, resp)
	case service.MoveTargetUnavailable, service.MoveRolledBack:
		return c.JSON(http.StatusConflict, resp)
	}
	reason := out.Reserve.Reason
	if out.Reserve.Status != service.ReservationFailed {
		reason = out.Release.Reason
		if out.Rollback != nil {
			reason = out.Rollback.Reason
		}
	}
	return c.JSON(h.failureCode(c, reason, out.Err()), resp)
}

// seatView is one row of a seat listing.
type seatView struct {
	Seat      string `json:"seat"`
	Free      bool   `json:"free"`
	UserID    string `json:"user_id,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// ListSeats handles GET /v1/movies/:movie/seats.  Seats that were never
// reserved have no record and are not listed.
func (h *ReservationHandler) ListSeats(c echo.Context) error {
	recs, err := h.Coord.ListSeats(c.Request().Context(), pathParam(c, "movie"))
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(validationCode(ve), echo.Map{"error": ve.Error()})
		}
		c.Logger().Errorf("list seats: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list seats"})
	}
	free := c.QueryParam("free")
	out := make([]seatView, 0, len(recs))
	for _, r := range recs {
		if free != "" && strconv.FormatBool(r.Free()) != free {
			continue
		}
		out = append(out, seatView{Seat: r.Label, Free: r.Free(), UserID: r.UserID, UpdatedAt: r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// failureCode maps a failed outcome onto an HTTP status.  Retryable
// failures get 503 with Retry-After so clients replay the same intent.
func (h *ReservationHandler) failureCode(c echo.Context, reason service.Reason, err error) int {
	switch reason {
	case service.ReasonInvalid:
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			return validationCode(ve)
		}
		return http.StatusBadRequest
	case service.ReasonTimeout, service.ReasonCanceled:
		secs := h.RetryAfter
		if secs <= 0 {
			secs = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return http.StatusServiceUnavailable
	}
	c.Logger().Errorf("seat operation failed: %v", err)
	return http.StatusInternalServerError
}

func validationCode(ve *service.ValidationError) int {
	if ve.NotFound {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// pathParam returns an unescaped path parameter; movie names may carry
// spaces.
func pathParam(c echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
