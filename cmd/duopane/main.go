package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/macg4dave/duopane/pkg/archive"
	"github.com/macg4dave/duopane/pkg/buildinfo"
	"github.com/macg4dave/duopane/pkg/config"
	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/fsmeta"
	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/fstree"
	"github.com/macg4dave/duopane/pkg/metrics"
	"github.com/macg4dave/duopane/pkg/opcoord"
	"github.com/macg4dave/duopane/pkg/opstate"
	"github.com/macg4dave/duopane/pkg/panel"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/util"
	"github.com/macg4dave/duopane/pkg/watcher"
)

// action defines a special command to execute instead of an operation.
type action int

const (
	actionRunOperation action = iota
	actionShowVersion
	actionInitConfig
	actionList
	actionWatch
)

// cliFlags holds the parsed command line.
type cliFlags struct {
	op       string
	sources  []string
	dest     string
	conflict string
	dir      string

	configPath string
	logLevel   string
	quiet      bool
	failFast   bool
	withStats  bool
}

// init sets up a descriptive help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Transactional filesystem operations: copy, move, rename, delete, pack and extract.\n\n")
		flag.PrintDefaults()
	}
}

func parseFlags() (action, *cliFlags, error) {
	opFlag := flag.String("op", "", "Operation to run: 'copy', 'move', 'rename', 'delete', 'mkfile', 'mkdir', 'pack' or 'extract'.")
	srcFlag := flag.String("src", "", "Comma-separated list of source paths.")
	dstFlag := flag.String("dst", "", "Destination path (for rename: the new name).")
	conflictFlag := flag.String("conflict", "ask", "Conflict policy: 'ask', 'overwrite', 'overwrite-all', 'skip', 'skip-all' or 'cancel'.")
	listFlag := flag.String("list", "", "Print the panel listing of a directory and exit.")
	watchFlag := flag.String("watch", "", "Watch a directory and print a line per refresh signal until interrupted.")
	configFlag := flag.String("config", "", "Path to the configuration file.")
	logLevelFlag := flag.String("log-level", "", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	quietFlag := flag.Bool("quiet", false, "Suppress per-entry and informational output.")
	failFastFlag := flag.Bool("fail-fast", false, "Stop a bulk operation on the first item error.")
	metricsFlag := flag.Bool("metrics", false, "Print operation counters when done.")
	initFlag := flag.Bool("init", false, "Generate a default "+config.FileName+" and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	f := &cliFlags{
		op:         *opFlag,
		dest:       *dstFlag,
		conflict:   *conflictFlag,
		configPath: *configFlag,
		logLevel:   *logLevelFlag,
		quiet:      *quietFlag,
		failFast:   *failFastFlag,
		withStats:  *metricsFlag,
	}
	for _, s := range strings.Split(*srcFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.sources = append(f.sources, s)
		}
	}

	// Tilde-expand every user-supplied path; the engine never sees "~".
	var err error
	if f.configPath, err = util.ExpandPath(f.configPath); err != nil {
		return 0, nil, err
	}
	if f.dest, err = util.ExpandPath(f.dest); err != nil {
		return 0, nil, err
	}
	for i := range f.sources {
		if f.sources[i], err = util.ExpandPath(f.sources[i]); err != nil {
			return 0, nil, err
		}
	}

	switch {
	case *versionFlag:
		return actionShowVersion, f, nil
	case *initFlag:
		return actionInitConfig, f, nil
	case *listFlag != "":
		if f.dir, err = util.ExpandPath(*listFlag); err != nil {
			return 0, nil, err
		}
		return actionList, f, nil
	case *watchFlag != "":
		if f.dir, err = util.ExpandPath(*watchFlag); err != nil {
			return 0, nil, err
		}
		return actionWatch, f, nil
	}
	return actionRunOperation, f, nil
}

// parseKind maps the -op flag to an operation kind.
func parseKind(s string) (fsop.Kind, error) {
	switch strings.ToLower(s) {
	case "copy":
		return fsop.OpCopy, nil
	case "move":
		return fsop.OpMove, nil
	case "rename":
		return fsop.OpRename, nil
	case "delete":
		return fsop.OpDelete, nil
	case "mkfile":
		return fsop.OpCreateFile, nil
	case "mkdir":
		return fsop.OpCreateDir, nil
	case "pack":
		return fsop.OpPack, nil
	case "extract":
		return fsop.OpExtract, nil
	case "":
		return 0, errors.New("the -op flag is required (or use -list / -watch / -init / -version)")
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// newEngine wires the full operation stack: metadata preserver, atomic
// primitives, tree syncer and archiver, all feeding one coordinator.
func newEngine(cfg *config.Config) *opcoord.Coordinator {
	var mets metrics.Metrics = &metrics.NoopMetrics{}
	if cfg.Metrics {
		mets = &metrics.OpMetrics{}
	}

	meta := fsmeta.New(cfg.MetaWorkers)
	prims := fsatomic.New(meta, fsatomic.NoopInjector{}, cfg.BufferSize())
	trees := fstree.New(prims, meta, mets, cfg.SyncWorkers, cfg.FailFast)
	arch := archive.New(prims, cfg.ArchiveFormat(), cfg.ArchiveLevel(), cfg.Archive.Workers, cfg.BufferSize(), cfg.ReadAheadLimit(), mets)

	return opcoord.New(prims, trees, arch, mets, cfg.FailFast)
}

// conflictEvents translates a policy token into the prompt-event sequence
// that yields the matching decision. The prompt cursor starts on overwrite.
func conflictEvents(policy string) ([]opstate.Event, error) {
	switch policy {
	case "overwrite", "o":
		return []opstate.Event{opstate.ConfirmEvent{}}, nil
	case "overwrite-all", "O":
		return []opstate.Event{opstate.ToggleApplyAllEvent{}, opstate.ConfirmEvent{}}, nil
	case "skip", "s":
		return []opstate.Event{opstate.CursorNextEvent{}, opstate.ConfirmEvent{}}, nil
	case "skip-all", "S":
		return []opstate.Event{opstate.CursorNextEvent{}, opstate.ToggleApplyAllEvent{}, opstate.ConfirmEvent{}}, nil
	case "cancel", "c":
		return []opstate.Event{opstate.CancelKeyEvent{}}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
}

// promptUser asks on the terminal how to handle a collision.
func promptUser(in *bufio.Reader, path string) string {
	fmt.Fprintf(os.Stderr, "Destination exists: %s\n", path)
	fmt.Fprintf(os.Stderr, "[o]verwrite, [O]verwrite all, [s]kip, [S]kip all, [c]ancel? ")
	line, err := in.ReadString('\n')
	if err != nil {
		return "c"
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return "s"
	}
	return answer
}

// runOperation submits the operation and drives the interaction state
// machine off the handle's message stream until completion.
func runOperation(ctx context.Context, cfg *config.Config, f *cliFlags) error {
	kind, err := parseKind(f.op)
	if err != nil {
		return err
	}
	op := fsop.Operation{
		Kind:      kind,
		Sources:   f.sources,
		Dest:      f.dest,
		Recursive: true,
	}

	coord := newEngine(cfg)
	h, err := coord.Submit(ctx, op)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	var state opstate.State = opstate.Idle{}
	state = opstate.Reduce(state, opstate.StartEvent{Title: op.Title()}).Next

	apply := func(ev opstate.Event) {
		tr := opstate.Reduce(state, ev)
		state = tr.Next
		switch tr.Effect {
		case opstate.EffectSendDecision:
			if err := h.Resolve(tr.Decision); err != nil {
				plog.Warn("Could not deliver decision", "error", err)
			}
		case opstate.EffectCancel:
			h.Cancel()
		}
	}

	for msg := range h.Messages() {
		switch m := msg.(type) {
		case opcoord.ProgressMsg:
			apply(opstate.ProgressEvent{State: m.State})
		case opcoord.ConflictMsg:
			apply(opstate.ConflictEvent{Path: m.Request.Path})

			policy := f.conflict
			if policy == "ask" {
				policy = promptUser(stdin, m.Request.Path)
			}
			evs, err := conflictEvents(policy)
			if err != nil {
				plog.Warn("Unknown answer, skipping item", "answer", policy)
				evs, _ = conflictEvents("skip")
			}
			for _, ev := range evs {
				apply(ev)
			}
		case opcoord.DoneMsg:
			apply(opstate.DoneEvent{Err: m.Err})
		}
	}

	if err := h.Wait(); err != nil {
		if errors.Is(err, fsop.ErrCancelled) {
			plog.Warn("Operation cancelled", "op", op.Kind.String())
			return nil
		}
		return err
	}

	st := h.Progress()
	plog.Info("Operation finished", "op", op.Kind.String(), "entries", st.Processed)
	return nil
}

// runList prints the panel listing of one directory.
func runList(dir string) error {
	entries, err := panel.List(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Kind {
		case panel.KindHeader:
			fmt.Printf("== %s\n", e.Name)
		case panel.KindParent:
			fmt.Println("   ..")
		case panel.KindDir:
			fmt.Printf("   %s/\n", e.Name)
		default:
			fmt.Printf("   %-40s %10d  %s\n", e.Name, e.Size, e.ModTime.Format(time.RFC3339))
		}
	}
	return nil
}

// runWatch follows one directory and reloads its listing on every refresh
// signal until the context is cancelled.
func runWatch(ctx context.Context, cfg *config.Config, dir string) error {
	p, err := panel.New(dir)
	if err != nil {
		return err
	}
	w, err := watcher.New(cfg.WatchDebounce())
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch(p.Cwd()); err != nil {
		return err
	}

	plog.Info("Watching", "dir", p.Cwd(), "debounce", cfg.WatchDebounce().String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case changed := <-w.Refreshes():
			if err := p.Refresh(); err != nil {
				plog.Warn("Could not refresh listing", "dir", changed, "error", err)
				continue
			}
			plog.Notice("REFRESH", "dir", changed, "entries", len(p.Entries()))
		}
	}
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing main to handle exit codes.
func run(ctx context.Context) error {
	act, f, err := parseFlags()
	if err != nil {
		return err
	}

	switch act {
	case actionShowVersion:
		fmt.Printf("%s version %s (%s)\n", buildinfo.Name, buildinfo.Version, buildinfo.Commit)
		return nil
	case actionInitConfig:
		if err := config.WriteDefault(f.configPath); err != nil {
			return err
		}
		plog.Info("Default configuration written")
		return nil
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.quiet {
		cfg.Quiet = true
	}
	if f.failFast {
		cfg.FailFast = true
	}
	if f.withStats {
		cfg.Metrics = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	plog.SetQuiet(cfg.Quiet)
	cfg.LogSummary()

	switch act {
	case actionList:
		return runList(f.dir)
	case actionWatch:
		return runWatch(ctx, cfg, f.dir)
	default:
		start := time.Now()
		if err := runOperation(ctx, cfg, f); err != nil {
			return err
		}
		plog.Info(buildinfo.Name+" finished successfully.", "duration", time.Since(start).Round(time.Millisecond))
		return nil
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is
	// received, so a running operation stops between items.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
