// Command seatctl is the operator CLI of the seat coordinator.  It talks
// to the configured stores directly, the same way the server does.
//
// Exit codes: 0 success, 2 conflict (seat taken, not owner, not found),
// 3 retryable failure (timeout, replay the same command), 1 anything else.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/seat-coordinator/internal/config"
	"github.com/iliyamo/seat-coordinator/internal/logger"
)

const (
	exitOK        = 0
	exitFatal     = 1
	exitConflict  = 2
	exitRetryable = 3
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func conflict(format string, args ...interface{}) error {
	return &exitError{code: exitConflict, err: fmt.Errorf(format, args...)}
}

func retryable(format string, args ...interface{}) error {
	return &exitError{code: exitRetryable, err: fmt.Errorf(format, args...)}
}

// command is one seatctl subcommand.  run receives the arguments after
// the command name.
type command struct {
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"reserve":  {"reserve -movie NAME -seat A1 -user UUID [-token T]", runReserve},
	"cancel":   {"cancel -movie NAME -seat A1 -user UUID", runCancel},
	"transfer": {"transfer -movie NAME -seat A1 -from UUID -to UUID", runTransfer},
	"move":     {"move -movie NAME -seat A1 -to B2 -user UUID [-token T]", runMove},
	"seats":    {"seats -movie NAME [-free=false]", runSeats},
	"movie":    {"movie add -name NAME -date 2026-11-02 | movie list | movie date -name NAME -date D", runMovie},
	"user":     {"user add -name NAME | user find -name NAME | user list | user rename -id UUID -name NAME", runUser},
	"stress":   {"stress -scenario same-request|randomized|full-occupancy [-movie M] [-seats N] [-clients N] ...", runStress},
	"migrate":  {"migrate", runMigrate},
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("seatctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	verbose := global.Bool("v", false, "log store and coordinator activity")
	global.Usage = func() { usage(stderr) }
	if err := global.Parse(args); err != nil {
		return exitFatal
	}
	if global.NArg() == 0 {
		usage(stderr)
		return exitFatal
	}
	name, rest := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "seatctl: unknown command %q\n", name)
		usage(stderr)
		return exitFatal
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "seatctl: config: %v\n", err)
		return exitFatal
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	// The CLI never serves HTTP; keep Redis for the seat store only.
	cfg.RateLimit.Enabled, cfg.Cache.Enabled = false, false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, log: logger.New("seatctl", level, stderr), out: stdout}
	defer e.close()
	if err := cmd.run(ctx, e, rest); err != nil {
		fmt.Fprintf(stderr, "seatctl %s: %v\n", name, err)
		var xe *exitError
		if errors.As(err, &xe) {
			return xe.code
		}
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}
	return exitOK
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: seatctl [-v] <command> [flags]")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", commands[n].usage)
	}
	fmt.Fprintln(w, "backends are selected with SEAT_STORE, CATALOG_STORE and the other environment variables")
}

// flags returns a flag set that reports errors instead of exiting.
func flags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// required checks that every named flag value is non-empty.
func required(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, "-"+pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
