// Command thumbshift-replay runs key event scripts or recorded traces
// through the thumb-shift filter on a virtual clock and prints every
// resolution with its time.
//
// Usage:
//
//	thumbshift-replay -script keys.txt
//	thumbshift-replay -db trace.db -session 3 -check
//	thumbshift-replay -evdev /dev/input/event3 -record trace.db
//
// A script holds one event per line, "<µs offset> <event>", where the event
// uses the key notation, e.g. "20000 (release a)", or is "!reset" to discard
// pending keys as a focus change would. Lines starting with # are comments.
// Output lines have the form "<µs> <sync|fwd> <event>".
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"thumbshift/internal/config"
	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
	"thumbshift/internal/trace"
	"thumbshift/internal/vclock"
)

// errMismatch is returned by -check when the replay diverges from the
// recording.
var errMismatch = errors.New("replay differs from recorded resolutions")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "thumbshift-replay: %v\n", err)
		}
		os.Exit(1)
	}
}

// resetMarker is the script event that resets the filter.
const resetMarker = "!reset"

// input is one event to feed at an offset from the start of the replay.
// A reset input discards pending keys instead of feeding key.
type input struct {
	at    int64
	key   keyevent.KeyEvent
	reset bool
}

// resolution is one event the filter produced.
type resolution struct {
	at   int64
	kind string
	key  keyevent.KeyEvent
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("thumbshift-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	script := fs.String("script", "", "script file to replay (- for stdin)")
	dbPath := fs.String("db", "", "trace database to replay from")
	session := fs.String("session", "", "trace session id or UUID (default: latest)")
	configPath := fs.String("config", "", "take thresholds from this config file")
	timeout := fs.Int64("timeout", 0, "timeout in µs")
	overlap := fs.Int64("overlap", 0, "overlap in µs")
	maxWait := fs.Int64("maxwait", 0, "maximum timer wait in µs")
	check := fs.Bool("check", false, "compare against the resolutions recorded in the trace")
	list := fs.Bool("list", false, "list the sessions in -db and exit")
	device := fs.String("evdev", "", "filter a live input device instead of replaying")
	grab := fs.Bool("grab", false, "with -evdev, take the device exclusively")
	recordPath := fs.String("record", "", "with -evdev, record the session to this trace database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		if *dbPath == "" {
			return errors.New("-list needs -db")
		}
		return listSessions(*dbPath, stdout)
	}

	sources := 0
	for _, s := range []string{*script, *dbPath, *device} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		fs.Usage()
		return errors.New("exactly one of -script, -db and -evdev is required")
	}
	if *check && *dbPath == "" {
		return errors.New("-check needs -db")
	}

	cfg := filter.DefaultConfig()
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c.FilterConfig()
	}

	var inputs []input
	var recorded []keyevent.KeyEvent
	if *script != "" {
		r, closeFn, err := openScript(*script)
		if err != nil {
			return err
		}
		inputs, err = parseScript(r)
		closeFn()
		if err != nil {
			return err
		}
	} else if *dbPath != "" {
		var traced filter.Config
		var err error
		inputs, recorded, traced, err = loadTrace(*dbPath, *session)
		if err != nil {
			return err
		}
		if *configPath == "" {
			cfg = traced
		}
	}

	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *overlap > 0 {
		cfg.Overlap = *overlap
	}
	if *maxWait > 0 {
		cfg.MaxWait = *maxWait
	}

	if *device != "" {
		return runLive(*device, *grab, *recordPath, cfg, stdout, stderr)
	}

	out := replay(cfg, inputs)
	w := bufio.NewWriter(stdout)
	for _, r := range out {
		fmt.Fprintf(w, "%d %s %s\n", r.at, r.kind, r.key)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if *check {
		return compare(recorded, out, stderr)
	}
	return nil
}

func openScript(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open script: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func parseScript(r io.Reader) ([]input, error) {
	var inputs []input
	sc := bufio.NewScanner(r)
	line := 0
	var last int64
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		offset, notation, ok := strings.Cut(text, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: want \"<offset> <event>\"", line)
		}
		at, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || at < 0 {
			return nil, fmt.Errorf("line %d: invalid offset %q", line, offset)
		}
		if at < last {
			return nil, fmt.Errorf("line %d: offset %d goes back in time", line, at)
		}
		if strings.TrimSpace(notation) == resetMarker {
			inputs = append(inputs, input{at: at, reset: true})
			last = at
			continue
		}
		key, err := keyevent.Parse(notation)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		inputs = append(inputs, input{at: at, key: key})
		last = at
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return inputs, nil
}

// findSession resolves a session by numeric ID or UUID; an empty ref picks
// the latest session.
func findSession(store *trace.Store, ref string) (*trace.Session, error) {
	if ref == "" {
		sessions, err := store.Sessions()
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, errors.New("trace has no sessions")
		}
		return &sessions[len(sessions)-1], nil
	}

	var sess *trace.Session
	var err error
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		sess, err = store.Session(id)
	} else {
		sess, err = store.SessionByUUID(ref)
	}
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", ref)
	}
	return sess, nil
}

func loadTrace(path, ref string) ([]input, []keyevent.KeyEvent, filter.Config, error) {
	store, err := trace.Open(path)
	if err != nil {
		return nil, nil, filter.Config{}, err
	}
	defer store.Close()

	sess, err := findSession(store, ref)
	if err != nil {
		return nil, nil, filter.Config{}, err
	}

	events, err := store.Events(sess.ID, "")
	if err != nil {
		return nil, nil, filter.Config{}, err
	}

	var inputs []input
	var recorded []keyevent.KeyEvent
	var base int64 = -1
	for _, e := range events {
		switch e.Direction {
		case trace.In:
			if base < 0 {
				base = e.TimeUs
			}
			inputs = append(inputs, input{at: e.TimeUs - base, key: e.Key})
		case trace.Reset:
			// Nothing is pending before the first input.
			if base >= 0 {
				inputs = append(inputs, input{at: max(e.TimeUs-base, 0), reset: true})
			}
		default:
			recorded = append(recorded, e.Key)
		}
	}
	return inputs, recorded, sess.Config, nil
}

func listSessions(path string, w io.Writer) error {
	store, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.UUID, s.Config, s.Note)
	}
	return nil
}

// replay feeds inputs to a fresh engine on a virtual clock. Timers due
// before an input fire first; the clock finally runs MaxWait past the last
// input so nothing stays pending.
func replay(cfg filter.Config, inputs []input) []resolution {
	clock := vclock.New(0)
	var out []resolution

	engine := filter.New(cfg,
		filter.WithClock(clock.Now),
		filter.WithScheduler(filter.SchedulerFunc(func(d time.Duration, f func()) filter.Timer {
			return clock.AfterFunc(d, f)
		})),
		filter.WithSleep(clock.Sleep),
		filter.WithForward(func(k keyevent.KeyEvent) {
			out = append(out, resolution{at: clock.Now(), kind: "fwd", key: k})
		}),
	)

	for _, in := range inputs {
		clock.AdvanceTo(in.at)
		if in.reset {
			engine.Reset()
			continue
		}
		if k, ok := engine.Process(in.key); ok {
			out = append(out, resolution{at: clock.Now(), kind: "sync", key: k})
		}
		clock.RunDue()
	}
	clock.Advance(time.Duration(engine.Config().MaxWait) * time.Microsecond)
	return out
}

func compare(recorded []keyevent.KeyEvent, got []resolution, w io.Writer) error {
	mismatch := len(recorded) != len(got)
	n := max(len(recorded), len(got))
	for i := 0; i < n; i++ {
		var want, have string
		if i < len(recorded) {
			want = recorded[i].String()
		}
		if i < len(got) {
			have = got[i].key.String()
		}
		if want != have {
			mismatch = true
			fmt.Fprintf(w, "#%d: recorded %q, replayed %q\n", i, want, have)
		}
	}
	if mismatch {
		return errMismatch
	}
	return nil
}
