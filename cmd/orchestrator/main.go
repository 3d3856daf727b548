// Command orchestrator is the pipeline orchestrator's CLI entrypoint: run,
// validate, and visualize a pipeline document, or arm it on the cron
// scheduler. It wires the same components the HTTP surface in pkg/api
// wires, just without the gin router.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/internal/config"
	"github.com/arjunmehta/pipeworks/internal/dag"
	"github.com/arjunmehta/pipeworks/internal/dlq"
	"github.com/arjunmehta/pipeworks/internal/executor"
	"github.com/arjunmehta/pipeworks/internal/logging"
	"github.com/arjunmehta/pipeworks/internal/notifier"
	"github.com/arjunmehta/pipeworks/internal/parser"
	"github.com/arjunmehta/pipeworks/internal/plugins"
	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/internal/scheduler"
	"github.com/arjunmehta/pipeworks/internal/state"
	"github.com/arjunmehta/pipeworks/internal/storage"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "validate":
		code = validateCommand(os.Args[2:])
	case "visualize":
		code = visualizeCommand(os.Args[2:])
	case "schedule":
		code = scheduleCommand(os.Args[2:])
	case "migrate":
		code = migrateCommand(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "orchestrator: unknown command %q\n", os.Args[1])
		usage()
		code = 1
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: orchestrator <command> [flags] <config>

commands:
  run <config>        execute the pipeline once and print the resulting run
  validate <config>   parse and structurally validate a pipeline document
  visualize <config>  emit a Mermaid flowchart of the pipeline's task graph
  schedule <config>   arm the pipeline's cron trigger on the scheduler
  migrate             run (or roll back) the postgres backend's schema migrations

common flags:
  -verbose            debug-level logging
  -silent             error-level logging only
  -json               emit machine-readable JSON instead of text
  -output <file>      write command output to a file instead of stdout
  -config <file>      app configuration file (YAML); ORCH_* env overrides it`)
}

// commonFlags are the flags every subcommand accepts.
type commonFlags struct {
	Verbose    bool
	Silent     bool
	JSON       bool
	Output     string
	ConfigFile string
}

func bindCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.BoolVar(&cf.Verbose, "verbose", false, "debug-level logging")
	fs.BoolVar(&cf.Silent, "silent", false, "error-level logging only")
	fs.BoolVar(&cf.JSON, "json", false, "emit machine-readable JSON")
	fs.StringVar(&cf.Output, "output", "", "write output to a file")
	fs.StringVar(&cf.ConfigFile, "config", "", "app configuration file")
	return cf
}

// app bundles every component a subcommand might need. Not every
// subcommand touches every field.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    storage.Store
	registry *registry.Registry
	exec     *executor.Executor
	notif    *notifier.Notifier
}

func buildApp(cf *commonFlags) (*app, error) {
	cfg, err := config.Load(cf.ConfigFile, "")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if cf.Verbose {
		level = "debug"
	} else if cf.Silent {
		level = "error"
	}
	format := cfg.Logging.Format
	if cf.JSON {
		format = "json"
	}
	log, err := logging.New(logging.Config{Level: level, Format: format, File: cfg.Logging.File})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	rawStore, err := buildStore(&cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store := storage.NewRetryingStore(rawStore, log)

	reg := registry.New(log)
	builtins := []registry.Plugin{plugins.NewHTTPPlugin(), plugins.NewNoopPlugin()}
	if cfg.Executor.EnableShellPlugin {
		builtins = append(builtins, plugins.NewShellPlugin())
	}
	for _, p := range builtins {
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("register plugin %s: %w", p.Name(), err)
		}
	}

	stateMgr := state.NewManager(&state.NoOpPublisher{})
	dlqMgr := dlq.NewManager(dlq.NewMemoryQueue(), cfg.Executor.DLQThreshold)

	notif := notifier.New()
	notif.Register("log", notifier.NewLogSink(log))
	if cfg.Redis.Addr != "" {
		notif.Register("redis", notifier.NewRedisSink(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), "pipeworks:events"))
	}

	dlqMgr.OnEntryAdded(func(e *dlq.Entry) {
		log.WithFields(logrus.Fields{"pipeline": e.PipelineName, "run_id": e.RunID, "task_id": e.TaskID}).
			Warn("task moved to dead letter queue")
	})
	dlqMgr.OnThresholdReached(func(count int) {
		if err := notif.Notify(context.Background(), notifier.Event{
			Type:    notifier.EventDLQThresholdReached,
			Status:  "threshold_reached",
			Message: fmt.Sprintf("dead letter queue holds %d entries", count),
		}); err != nil {
			log.WithError(err).Warn("failed to deliver dlq threshold notification")
		}
	})

	execCfg := &executor.Config{
		DefaultConcurrency: cfg.Executor.DefaultConcurrency,
		DefaultTaskTimeout: cfg.Executor.DefaultTaskTimeout,
	}
	exec := executor.New(reg, store, stateMgr, dlqMgr, notif, execCfg, log)

	return &app{cfg: cfg, log: log, store: store, registry: reg, exec: exec, notif: notif}, nil
}

func buildStore(sc *config.StorageConfig, log *logrus.Logger) (storage.Store, error) {
	switch sc.Backend {
	case "postgres":
		db, err := storage.NewDB(&storage.Config{
			Host:     sc.Host,
			Port:     sc.Port,
			User:     sc.User,
			Password: sc.Password,
			DBName:   sc.DBName,
			SSLMode:  sc.SSLMode,
		}, log)
		if err != nil {
			return nil, err
		}
		return storage.NewRelationalStore(db.DB), nil
	case "file", "":
		path := sc.FilePath
		if path == "" {
			path = "pipeworks.json"
		}
		return storage.NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func readPipeline(path string, strict bool) (*parser.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parser.New().Parse(data, path, strict)
}

// outcome is the shape every subcommand's --json output takes on failure.
// On success, run's --json output is the PipelineRun itself (see writeRun).
type outcome struct {
	Error    bool          `json:"error"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Time     time.Time     `json:"timestamp"`
}

func writeOutcome(cf *commonFlags, failed bool, message string, start time.Time) {
	dest := os.Stdout
	if failed {
		dest = os.Stderr
	}
	if cf.JSON {
		enc := json.NewEncoder(dest)
		enc.Encode(outcome{Error: failed, Message: message, Duration: time.Since(start), Time: time.Now().UTC()})
		return
	}
	if message != "" {
		fmt.Fprintln(dest, message)
	}
}

func failureCode(cf *commonFlags, err error, start time.Time) int {
	writeOutcome(cf, true, err.Error(), start)
	return 1
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cf := bindCommonFlags(fs)
	fs.Parse(args)
	start := time.Now()
	if fs.NArg() < 1 {
		return failureCode(cf, errors.New("run: missing <config> argument"), start)
	}

	a, err := buildApp(cf)
	if err != nil {
		return failureCode(cf, err, start)
	}

	result, err := readPipeline(fs.Arg(0), true)
	if err != nil {
		return failureCode(cf, err, start)
	}

	run, err := a.exec.ExecutePipeline(context.Background(), result.Pipeline, pipeline.Trigger{Type: pipeline.TriggerManual})
	if err != nil {
		return failureCode(cf, err, start)
	}

	writeRun(cf, run, start)
	if run.Status == pipeline.RunFailed || run.Status == pipeline.RunCancelled {
		return 1
	}
	return 0
}

func writeRun(cf *commonFlags, run *pipeline.PipelineRun, start time.Time) {
	dest, closeFn := outputWriter(cf)
	defer closeFn()

	if cf.JSON {
		json.NewEncoder(dest).Encode(run)
		return
	}

	fmt.Fprintf(dest, "run %s (%s): %s\n", run.ID, run.PipelineName, run.Status)
	for _, te := range run.Tasks {
		line := fmt.Sprintf("  %-20s %-10s attempts=%d", te.TaskID, te.Status, te.Attempts)
		if te.Result != nil && te.Result.Error != "" {
			line += " error=" + te.Result.Error
		}
		fmt.Fprintln(dest, line)
	}
	if run.Error != "" {
		fmt.Fprintln(dest, "error:", run.Error)
	}
	fmt.Fprintf(dest, "duration: %s\n", time.Since(start))
}

func validateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cf := bindCommonFlags(fs)
	fs.Parse(args)
	start := time.Now()
	if fs.NArg() < 1 {
		return failureCode(cf, errors.New("validate: missing <config> argument"), start)
	}

	result, err := readPipeline(fs.Arg(0), false)
	if err != nil {
		return failureCode(cf, err, start)
	}

	dest, closeFn := outputWriter(cf)
	defer closeFn()

	ok := len(result.Errors) == 0
	if cf.JSON {
		json.NewEncoder(dest).Encode(struct {
			Valid    bool     `json:"valid"`
			Errors   []string `json:"errors,omitempty"`
			Warnings []string `json:"warnings,omitempty"`
		}{Valid: ok, Errors: result.Errors, Warnings: result.Warnings})
	} else {
		if ok {
			fmt.Fprintln(dest, "valid")
		} else {
			fmt.Fprintln(dest, "invalid:")
		}
		for _, e := range result.Errors {
			fmt.Fprintln(dest, "  error:", e)
		}
		for _, w := range result.Warnings {
			fmt.Fprintln(dest, "  warning:", w)
		}
	}

	if !ok {
		return 1
	}
	return 0
}

func visualizeCommand(args []string) int {
	fs := flag.NewFlagSet("visualize", flag.ExitOnError)
	cf := bindCommonFlags(fs)
	fs.Parse(args)
	start := time.Now()
	if fs.NArg() < 1 {
		return failureCode(cf, errors.New("visualize: missing <config> argument"), start)
	}

	result, err := readPipeline(fs.Arg(0), true)
	if err != nil {
		return failureCode(cf, err, start)
	}

	g := dag.NewGraph(result.Pipeline)
	cp, err := g.CalculateCriticalPath()
	if err != nil {
		return failureCode(cf, err, start)
	}

	dest, closeFn := outputWriter(cf)
	defer closeFn()
	fmt.Fprintln(dest, renderMermaid(result.Pipeline, g, cp))
	return 0
}

var mermaidIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func mermaidID(taskID string) string {
	return mermaidIDPattern.ReplaceAllString(taskID, "_")
}

// renderMermaid emits a Mermaid flowchart TD diagram of the task graph,
// marking the critical path's nodes with the "critical" class.
func renderMermaid(p *pipeline.Pipeline, g *dag.Graph, cp *dag.CriticalPathResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "flowchart TD\n")

	ids := append([]string(nil), g.TaskIDs()...)
	sort.Strings(ids)

	for _, id := range ids {
		task, err := g.GetTask(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "    %s[%q]\n", mermaidID(id), task.Name)
	}
	for _, id := range ids {
		deps, err := g.GetImmediateDependencies(id)
		if err != nil {
			continue
		}
		for _, dep := range deps {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(dep), mermaidID(id))
		}
	}
	if cp != nil {
		for _, id := range ids {
			if cp.IsCriticalTask[id] {
				fmt.Fprintf(&b, "    class %s critical\n", mermaidID(id))
			}
		}
		fmt.Fprintf(&b, "    classDef critical stroke:#f00,stroke-width:2px\n")
	}
	return b.String()
}

func findCronTrigger(p *pipeline.Pipeline) *pipeline.Trigger {
	for i := range p.Triggers {
		if p.Triggers[i].Type == pipeline.TriggerCron && p.Triggers[i].Cron != nil {
			return &p.Triggers[i]
		}
	}
	return nil
}

func scheduleCommand(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cf := bindCommonFlags(fs)
	daemon := fs.Bool("daemon", false, "block and fire scheduled runs until interrupted")
	fs.Parse(args)
	start := time.Now()
	if fs.NArg() < 1 {
		return failureCode(cf, errors.New("schedule: missing <config> argument"), start)
	}

	a, err := buildApp(cf)
	if err != nil {
		return failureCode(cf, err, start)
	}

	result, err := readPipeline(fs.Arg(0), true)
	if err != nil {
		return failureCode(cf, err, start)
	}

	trigger := findCronTrigger(result.Pipeline)
	if trigger == nil {
		return failureCode(cf, errors.New("schedule: pipeline document has no cron trigger"), start)
	}

	var lock *scheduler.EntryLock
	if a.cfg.Redis.Addr != "" {
		lock = scheduler.NewEntryLock(redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		}), 30*time.Second)
	}

	schedCfg := &scheduler.Config{
		DefaultTimezone:      a.cfg.Scheduler.DefaultTimezone,
		HousekeepingInterval: a.cfg.Scheduler.HousekeepingInterval,
		RetentionDays:        a.cfg.Scheduler.RetentionDays,
	}
	sched := scheduler.New(a.store, a.exec, lock, schedCfg, a.log)

	entryID, err := sched.SchedulePipeline(context.Background(), *result.Pipeline, *trigger)
	if err != nil {
		return failureCode(cf, err, start)
	}

	if !*daemon {
		writeOutcome(cf, false, fmt.Sprintf("scheduled %s as entry %s", result.Pipeline.Name, entryID), start)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.log.Info("orchestrator: shutdown signal received, stopping scheduler")
		sched.Stop()
		cancel()
	}()

	a.log.WithField("entry_id", entryID).Info("orchestrator: scheduler running")
	if err := sched.Start(ctx); err != nil {
		return failureCode(cf, err, start)
	}
	<-ctx.Done()
	return 0
}

// migrateCommand runs (or rolls back) the postgres backend's schema
// migrations. It is a no-op error for the file backend, which has no
// schema to migrate.
func migrateCommand(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cf := bindCommonFlags(fs)
	down := fs.Bool("down", false, "roll back the last applied migration instead of applying pending ones")
	showVersion := fs.Bool("version", false, "print the currently applied schema version instead of migrating")
	fs.Parse(args)
	start := time.Now()

	cfg, err := config.Load(cf.ConfigFile, "")
	if err != nil {
		return failureCode(cf, fmt.Errorf("load config: %w", err), start)
	}
	if cfg.Storage.Backend != "postgres" {
		return failureCode(cf, fmt.Errorf("migrate: storage backend %q has no schema to migrate", cfg.Storage.Backend), start)
	}

	migCfg := &storage.MigrateConfig{
		Host:     cfg.Storage.Host,
		Port:     cfg.Storage.Port,
		User:     cfg.Storage.User,
		Password: cfg.Storage.Password,
		DBName:   cfg.Storage.DBName,
		SSLMode:  cfg.Storage.SSLMode,
	}

	if *showVersion {
		version, dirty, err := storage.MigrationVersion(migCfg, cfg.Storage.MigrationsPath)
		if err != nil {
			return failureCode(cf, err, start)
		}
		writeOutcome(cf, false, fmt.Sprintf("schema version %d (dirty=%t)", version, dirty), start)
		return 0
	}

	if *down {
		if err := storage.RollbackMigrations(migCfg, cfg.Storage.MigrationsPath); err != nil {
			return failureCode(cf, err, start)
		}
		writeOutcome(cf, false, "rolled back last migration", start)
		return 0
	}

	if err := storage.RunMigrations(migCfg, cfg.Storage.MigrationsPath); err != nil {
		return failureCode(cf, err, start)
	}
	writeOutcome(cf, false, "migrations applied", start)
	return 0
}

// outputWriter opens cf.Output if set, otherwise returns stdout. The
// returned closer is always safe to call.
func outputWriter(cf *commonFlags) (*os.File, func()) {
	if cf.Output == "" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(cf.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: open output %s: %v\n", cf.Output, err)
		return os.Stdout, func() {}
	}
	return f, func() { f.Close() }
}
