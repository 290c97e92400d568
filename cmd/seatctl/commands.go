package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/app"
	"github.com/iliyamo/seat-coordinator/internal/config"
	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
	"github.com/iliyamo/seat-coordinator/internal/service"
	"github.com/iliyamo/seat-coordinator/internal/stress"
)

// env is the per-invocation state shared by the commands.
type env struct {
	cfg config.Config
	log logger.Logger
	out io.Writer
	app *app.App
}

func (e *env) open(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if e.app == nil {
		a, err := app.New(ctx, e.cfg, e.log, opts...)
		if err != nil {
			return nil, err
		}
		e.app = a
	}
	return e.app, nil
}

func (e *env) close() {
	if e.app != nil {
		_ = e.app.Close()
	}
}

func runReserve(ctx context.Context, e *env, args []string) error {
	fs := flags("reserve", e.out)
	movie := fs.String("movie", "", "movie name")
	seat := fs.String("seat", "", "seat label, e.g. A1")
	user := fs.String("user", "", "user id")
	token := fs.String("token", "", "idempotency token; reuse it to retry safely")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("movie", *movie, "seat", *seat, "user", *user); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	out := a.Coordinator.Reserve(ctx, model.ReservationIntent{
		MovieName: *movie, SeatLabel: *seat, UserID: *user, IdempotencyToken: *token,
	})
	return reservationResult(e.out, out)
}

func reservationResult(w io.Writer, out service.ReservationOutcome) error {
	switch out.Status {
	case service.Confirmed:
		note := ""
		if out.Replayed {
			note = " (already held)"
		}
		fmt.Fprintf(w, "reserved %s/%s for %s%s token=%s\n", out.MovieName, out.Seat, out.UserID, note, out.Token)
		return nil
	case service.AlreadyTaken:
		return conflict("seat %s/%s is taken by %s", out.MovieName, out.Seat, out.Occupant)
	}
	if out.Retryable() {
		return retryable("%v; retry with -token %s", out.Err(), tokenOr(out.Token))
	}
	return out.Err()
}

func tokenOr(t string) string {
	if t == "" {
		return "<same token>"
	}
	return t
}

func runCancel(ctx context.Context, e *env, args []string) error {
	fs := flags("cancel", e.out)
	movie := fs.String("movie", "", "movie name")
	seat := fs.String("seat", "", "seat label")
	user := fs.String("user", "", "user id holding the seat")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("movie", *movie, "seat", *seat, "user", *user); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	return cancelResult(e.out, a.Coordinator.Cancel(ctx, *movie, *seat, *user))
}

func cancelResult(w io.Writer, out service.CancelOutcome) error {
	switch out.Status {
	case service.Released:
		fmt.Fprintf(w, "released %s/%s\n", out.MovieName, out.Seat)
		return nil
	case service.NotOwner:
		return conflict("seat %s/%s is held by %s, not %s", out.MovieName, out.Seat, out.Occupant, out.UserID)
	case service.NotFound:
		return conflict("seat %s/%s is not reserved", out.MovieName, out.Seat)
	}
	if out.Retryable() {
		return retryable("%v", out.Err())
	}
	return out.Err()
}

func runTransfer(ctx context.Context, e *env, args []string) error {
	fs := flags("transfer", e.out)
	movie := fs.String("movie", "", "movie name")
	seat := fs.String("seat", "", "seat label")
	from := fs.String("from", "", "current holder")
	to := fs.String("to", "", "new holder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("movie", *movie, "seat", *seat, "from", *from, "to", *to); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	out := a.Coordinator.Transfer(ctx, *movie, *seat, *from, *to)
	switch out.Status {
	case service.Transferred:
		fmt.Fprintf(e.out, "transferred %s/%s to %s\n", out.Reserve.MovieName, out.Reserve.Seat, out.Reserve.UserID)
		return nil
	case service.TransferNotHeld:
		return cancelResult(e.out, out.Cancel)
	case service.TransferLost:
		return conflict("seat %s/%s was released but claimed by %s first", out.Reserve.MovieName, out.Reserve.Seat, out.Reserve.Occupant)
	}
	if out.Cancel.Retryable() || out.Reserve.Retryable() {
		return retryable("%v", out.Err())
	}
	return out.Err()
}

func runMove(ctx context.Context, e *env, args []string) error {
	fs := flags("move", e.out)
	movie := fs.String("movie", "", "movie name")
	seat := fs.String("seat", "", "seat currently held")
	to := fs.String("to", "", "seat to move to")
	user := fs.String("user", "", "user id")
	token := fs.String("token", "", "idempotency token of the move")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("movie", *movie, "seat", *seat, "to", *to, "user", *user); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	out := a.Coordinator.Move(ctx, *movie, *seat, *to, *user, *token)
	switch out.Status {
	case service.MoveCompleted:
		fmt.Fprintf(e.out, "moved %s from %s to %s\n", *user, strings.ToUpper(*seat), strings.ToUpper(*to))
		return nil
	case service.MoveTargetUnavailable:
		return conflict("seat %s is taken by %s", out.Reserve.Seat, out.Reserve.Occupant)
	case service.MoveRolledBack:
		return conflict("%s does not hold %s; nothing changed", *user, strings.ToUpper(*seat))
	}
	if out.Reserve.Retryable() || out.Release.Retryable() || (out.Rollback != nil && out.Rollback.Retryable()) {
		return retryable("%v; retry with -token %s", out.Err(), tokenOr(out.Reserve.Token))
	}
	return out.Err()
}

func runSeats(ctx context.Context, e *env, args []string) error {
	fs := flags("seats", e.out)
	movie := fs.String("movie", "", "movie name")
	free := fs.String("free", "", "true lists free seats only, false occupied seats only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("movie", *movie); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	recs, err := a.Coordinator.ListSeats(ctx, *movie)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEAT\tOCCUPANT\tUPDATED")
	for _, r := range recs {
		if *free != "" && fmt.Sprint(r.Free()) != *free {
			continue
		}
		occ := r.UserID
		if r.Free() {
			occ = "free"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Label, occ, r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runMovie(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("movie: want add, list or date")
	}
	fs := flags("movie "+args[0], e.out)
	name := fs.String("name", "", "movie name")
	date := fs.String("date", "", "show date, RFC 3339 or YYYY-MM-DD")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "add", "date":
		if err := required("name", *name, "date", *date); err != nil {
			return err
		}
		d, err := repository.ParseShowDate(*date)
		if err != nil {
			return err
		}
		var m model.Movie
		if args[0] == "add" {
			m, err = a.Catalog.CreateMovie(ctx, *name, d)
		} else {
			m, err = a.Catalog.UpdateShowDate(ctx, *name, d)
		}
		if err != nil {
			return catalogErr(err)
		}
		fmt.Fprintf(e.out, "%s\t%s\n", m.Name, m.ShowDate.Format(time.RFC3339))
		return nil
	case "list":
		movies, err := a.Catalog.ListMovies(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSHOW DATE")
		for _, m := range movies {
			fmt.Fprintf(tw, "%s\t%s\n", m.Name, m.ShowDate.Format(time.RFC3339))
		}
		return tw.Flush()
	}
	return fmt.Errorf("movie: unknown action %q", args[0])
}

func runUser(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("user: want add, find, list or rename")
	}
	fs := flags("user "+args[0], e.out)
	name := fs.String("name", "", "username")
	id := fs.String("id", "", "user id")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	var u model.User
	switch args[0] {
	case "add":
		if err := required("name", *name); err != nil {
			return err
		}
		u, err = a.Catalog.CreateUser(ctx, *name)
	case "find":
		if err := required("name", *name); err != nil {
			return err
		}
		u, err = a.Catalog.GetUserByUsername(ctx, *name)
	case "rename":
		if err := required("id", *id, "name", *name); err != nil {
			return err
		}
		u, err = a.Catalog.RenameUser(ctx, *id, *name)
	case "list":
		users, err := a.Catalog.ListUsers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\n", u.ID, u.Username)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("user: unknown action %q", args[0])
	}
	if err != nil {
		return catalogErr(err)
	}
	fmt.Fprintf(e.out, "%s\t%s\n", u.ID, u.Username)
	return nil
}

func catalogErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrMovieExists), errors.Is(err, repository.ErrUsernameTaken),
		errors.Is(err, repository.ErrMovieNotFound), errors.Is(err, repository.ErrUserNotFound):
		return &exitError{code: exitConflict, err: err}
	}
	return err
}

func runMigrate(ctx context.Context, e *env, args []string) error {
	if err := flags("migrate", e.out).Parse(args); err != nil {
		return err
	}
	if err := app.Migrate(ctx, e.cfg, e.log); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "schema ready for seat store %s, catalog %s\n", e.cfg.SeatStore, e.cfg.CatalogStore)
	return nil
}

func runStress(ctx context.Context, e *env, args []string) error {
	fs := flags("stress", e.out)
	scenario := fs.String("scenario", string(stress.FullOccupancy), "same-request, randomized or full-occupancy")
	movie := fs.String("movie", "Stress Test", "movie to run against; created when missing")
	seats := fs.Int("seats", 20, "number of contended seats, 20 per row starting at A1")
	clients := fs.Int("clients", 10, "concurrent clients")
	requests := fs.Int("requests", 20, "requests per client (same-request, randomized)")
	rps := fs.Float64("rate", 0, "overall requests per second, 0 for unlimited")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "seed of the random choices")
	lostReq := fs.Float64("lost-request", 0, "probability a write never reaches the store")
	lostReply := fs.Float64("lost-reply", 0, "probability a write lands but its answer is lost")
	readFail := fs.Float64("read-failure", 0, "probability a reconciliation read fails")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sc, err := stress.ParseScenario(*scenario)
	if err != nil {
		return err
	}

	var (
		inner  seatstore.Store
		faulty *stress.FaultyStore
	)
	faults := stress.Faults{LostRequest: *lostReq, LostReply: *lostReply, ReadFailure: *readFail}
	a, err := e.open(ctx, app.WithStore(func(s seatstore.Store) seatstore.Store {
		inner = s
		if faults == (stress.Faults{}) {
			return s
		}
		faulty = stress.NewFaultyStore(s, faults, *seed)
		return faulty
	}))
	if err != nil {
		return err
	}

	users, err := stressUsers(ctx, a.Catalog, *clients)
	if err != nil {
		return err
	}
	if _, err := a.Catalog.CreateMovie(ctx, *movie, time.Now().Add(24*time.Hour)); err != nil && !errors.Is(err, repository.ErrMovieExists) {
		return err
	}

	h := stress.New(a.Coordinator, inner, e.log)
	rep, err := h.Run(ctx, sc, stress.Config{
		Movie: *movie, Seats: seatLabels(*seats), Users: users, Clients: *clients,
		Requests: *requests, Rate: *rps, Seed: *seed,
	})
	fmt.Fprintln(e.out, rep)
	if faulty != nil {
		st := faulty.Stats()
		fmt.Fprintf(e.out, "faults: lost requests=%d lost replies=%d read failures=%d\n", st.LostRequests, st.LostReplies, st.ReadFailures)
	}
	if len(rep.Unacknowledged) > 0 {
		fmt.Fprintf(e.out, "held without a confirmed outcome: %s\n", strings.Join(rep.Unacknowledged, " "))
	}
	for _, v := range rep.Violations {
		fmt.Fprintf(e.out, "VIOLATION: %s\n", v)
	}
	return err
}

// stressUsers returns ids of the catalog users stress-0 .. stress-(n-1),
// creating those that are missing.
func stressUsers(ctx context.Context, cat repository.Catalog, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("stress-%d", i)
		u, err := cat.CreateUser(ctx, name)
		if errors.Is(err, repository.ErrUsernameTaken) {
			u, err = cat.GetUserByUsername(ctx, name)
		}
		if err != nil {
			return nil, fmt.Errorf("stress user %s: %w", name, err)
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// seatLabels lays n seats out in rows of 20: A1..A20, B1..B20 and so on.
func seatLabels(n int) []string {
	const perRow = 20
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		row := i / perRow
		label := string(rune('A' + row%26))
		if row >= 26 {
			label = string(rune('A'+row/26-1)) + label
		}
		out = append(out, fmt.Sprintf("%s%d", label, i%perRow+1))
	}
	return out
}
