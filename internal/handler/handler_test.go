package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
	"github.com/iliyamo/seat-coordinator/internal/service"
)

type fixture struct {
	e       *echo.Echo
	catalog *repository.MemoryCatalog
	store   seatstore.Store
	alice   string
	bob     string
}

func instant(attempts int) service.RetryPolicy {
	return service.RetryPolicy{
		MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
		Jitter: service.NoJitter,
		Sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func newFixture(t *testing.T, store seatstore.Store) *fixture {
	t.Helper()
	if store == nil {
		store = seatstore.NewMemoryStore()
	}
	cat := repository.NewMemoryCatalog()
	ctx := context.Background()
	_, err := cat.CreateMovie(ctx, "Alien", time.Date(2026, 11, 2, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	a, err := cat.CreateUser(ctx, "alice")
	require.NoError(t, err)
	b, err := cat.CreateUser(ctx, "bob")
	require.NoError(t, err)

	coord, err := service.NewCoordinator(store, cat, service.Options{Retry: instant(2), CallTimeout: time.Second})
	require.NoError(t, err)

	e := echo.New()
	rh := NewReservationHandler(coord)
	rh.RetryAfter = 2
	e.GET("/v1/movies/:movie/seats", rh.ListSeats)
	e.POST("/v1/movies/:movie/seats/:seat/reservation", rh.Reserve)
	e.DELETE("/v1/movies/:movie/seats/:seat/reservation", rh.Cancel)
	e.POST("/v1/movies/:movie/seats/:seat/transfer", rh.Transfer)
	e.POST("/v1/movies/:movie/seats/:seat/move", rh.Move)

	ch := NewCatalogHandler(cat)
	e.POST("/v1/movies", ch.CreateMovie)
	e.GET("/v1/movies", ch.ListMovies)
	e.GET("/v1/movies/:movie", ch.GetMovie)
	e.PATCH("/v1/movies/:movie", ch.UpdateMovie)
	e.POST("/v1/users", ch.CreateUser)
	e.GET("/v1/users", ch.ListUsers)
	e.GET("/v1/users/:id", ch.GetUser)
	e.PATCH("/v1/users/:id", ch.RenameUser)

	e.GET("/healthz", Health(map[string]Pinger{"seat store": store}))
	return &fixture{e: e, catalog: cat, store: store, alice: a.ID, bob: b.ID}
}

func (f *fixture) call(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestReserveConfirmsThenReplays(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"user_id":"` + f.alice + `","idempotency_token":"tok-1"}`

	rec := f.call(http.MethodPost, "/v1/movies/Alien/seats/a1/reservation", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "confirmed", got["status"])
	assert.Equal(t, "A1", got["seat"])
	assert.Equal(t, false, got["replayed"])

	rec = f.call(http.MethodPost, "/v1/movies/Alien/seats/A1/reservation", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["replayed"])
}

func TestReserveTakenIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.call(http.MethodPost, "/v1/movies/Alien/seats/B4/reservation", `{"user_id":"`+f.alice+`"}`)

	rec := f.call(http.MethodPost, "/v1/movies/Alien/seats/B4/reservation", `{"user_id":"`+f.bob+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "already_taken", got["status"])
	assert.Equal(t, f.alice, got["occupant"])
}

func TestReserveTokenFromHeader(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.call(http.MethodPost, "/v1/movies/Alien/seats/C1/reservation", `{"user_id":"`+f.alice+`"}`, "Idempotency-Key", "hdr-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hdr-1", decode(t, rec)["idempotency_token"])
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name, target, body string
		code               int
	}{
		{"bad seat", "/v1/movies/Alien/seats/1A/reservation", `{"user_id":"` + f.alice + `"}`, http.StatusBadRequest},
		{"bad user", "/v1/movies/Alien/seats/A1/reservation", `{"user_id":"alice"}`, http.StatusBadRequest},
		{"unknown movie", "/v1/movies/Heat/seats/A1/reservation", `{"user_id":"` + f.alice + `"}`, http.StatusNotFound},
		{"unknown user", "/v1/movies/Alien/seats/A1/reservation", `{"user_id":"0f8fad5b-d9cb-469f-a165-70867728950e"}`, http.StatusNotFound},
		{"bad body", "/v1/movies/Alien/seats/A1/reservation", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.call(http.MethodPost, tc.target, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

// stuckStore never gets an answer through.
type stuckStore struct {
	*seatstore.MemoryStore
}

func (s stuckStore) ConditionalReserve(context.Context, string, string, string, string) (seatstore.Result, error) {
	return seatstore.Result{Status: seatstore.Indeterminate, Cause: errors.New("quorum lost")}, nil
}

func (s stuckStore) LinearizableRead(context.Context, string, string) (model.SeatState, error) {
	return model.SeatState{}, seatstore.ErrIndeterminate
}

func TestReserveTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, stuckStore{seatstore.NewMemoryStore()})

	rec := f.call(http.MethodPost, "/v1/movies/Alien/seats/A1/reservation", `{"user_id":"`+f.alice+`","idempotency_token":"t"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	got := decode(t, rec)
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "timeout", got["reason"])
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.call(http.MethodPost, "/v1/movies/Alien/seats/D2/reservation", `{"user_id":"`+f.alice+`"}`)

	rec := f.call(http.MethodDelete, "/v1/movies/Alien/seats/D2/reservation?user_id="+f.bob, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_owner", decode(t, rec)["status"])

	rec = f.call(http.MethodDelete, "/v1/movies/Alien/seats/D2/reservation?user_id="+f.alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "released", decode(t, rec)["status"])

	rec = f.call(http.MethodDelete, "/v1/movies/Alien/seats/D2/reservation?user_id="+f.alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferAndMove(t *testing.T) {
	f := newFixture(t, nil)
	f.call(http.MethodPost, "/v1/movies/Alien/seats/E5/reservation", `{"user_id":"`+f.alice+`"}`)

	rec := f.call(http.MethodPost, "/v1/movies/Alien/seats/E5/transfer", `{"from_user_id":"`+f.alice+`","to_user_id":"`+f.bob+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "transferred", decode(t, rec)["status"])

	rec = f.call(http.MethodPost, "/v1/movies/Alien/seats/E5/transfer", `{"from_user_id":"`+f.alice+`","to_user_id":"`+f.bob+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.call(http.MethodPost, "/v1/movies/Alien/seats/E5/move", `{"user_id":"`+f.bob+`","to_seat":"E6"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = f.call(http.MethodGet, "/v1/movies/Alien/seats?free=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]interface{})
	require.Len(t, items, 1)
	seat := items[0].(map[string]interface{})
	assert.Equal(t, "E6", seat["seat"])
	assert.Equal(t, f.bob, seat["user_id"])
}

func TestListSeatsUnknownMovie(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodGet, "/v1/movies/Heat/seats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMovieNameWithSpaces(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodPost, "/v1/movies", `{"name":"Blade Runner","show_date":"2026-12-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.call(http.MethodPost, "/v1/movies/Blade%20Runner/seats/A1/reservation", `{"user_id":"`+f.alice+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Blade Runner", decode(t, rec)["movie_name"])
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.call(http.MethodPost, "/v1/movies", `{"name":"Alien","show_date":"2026-11-02"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.call(http.MethodPost, "/v1/movies", `{"name":"Heat","show_date":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(http.MethodPatch, "/v1/movies/Alien", `{"show_date":"2026-11-03T18:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-11-03T18:00:00Z", decode(t, rec)["show_date"])

	rec = f.call(http.MethodGet, "/v1/movies/Nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(http.MethodPost, "/v1/users", `{"username":"Alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.call(http.MethodGet, "/v1/users?username=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.bob, decode(t, rec)["id"])

	rec = f.call(http.MethodPatch, "/v1/users/"+f.bob, `{"username":"robert"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "robert", decode(t, rec)["username"])

	rec = f.call(http.MethodGet, "/v1/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 2)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	e := echo.New()
	e.GET("/healthz", Health(map[string]Pinger{"redis": downPinger{}}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
