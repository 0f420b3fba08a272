// Command meca runs a registered measurement script against the configured
// instruments and stores the run under the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/agwidera/meca/internal/config"
	"github.com/agwidera/meca/internal/device"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/report"
	"github.com/agwidera/meca/internal/surface"
	"github.com/agwidera/meca/internal/timeutil"
	"github.com/agwidera/meca/internal/version"

	_ "github.com/agwidera/meca/scripts/nv"
	_ "github.com/agwidera/meca/scripts/pulsed"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Application config (.json, .yaml or .yml)")
	runPath     = flag.String("run", "", "Run file describing script, iterators and parameters")
	scriptKey   = flag.String("script", "", "Script to run as folder/name (overrides the run file)")
	name        = flag.String("name", "", "Measurement name for the run directory")
	comment     = flag.String("comment", "", "Comment stored with the run")
	debug       = flag.Bool("debug", false, "Log every device command and answer")
	list        = flag.Bool("list", false, "List registered scripts and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
	noPlots     = flag.Bool("no-plots", false, "Do not render plots during the run")
	writeReport = flag.Bool("report", true, "Write report.html into the run directory")
	listen      = flag.String("listen", "", "Status API listen address (overrides status_listen)")
)

func main() {
	run := &config.Run{}
	flag.Func("iter", "Iterator as name=values, e.g. Frequency=2.8e9/2.9e9;1e6 (repeatable)", func(v string) error {
		return run.SetIterator(v)
	})
	flag.Func("param", "Parameter as name=value, e.g. Power=-10 (repeatable)", func(v string) error {
		return run.SetParam(v)
	})
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *list {
		listScripts(os.Stdout)
		return
	}

	code, err := measure(run)
	if err != nil {
		log.Printf("meca: %v", err)
	}
	os.Exit(code)
}

func listScripts(w io.Writer) {
	for _, info := range measurement.Scripts() {
		s := info.New()
		fmt.Fprintf(w, "%-20s %s (parameters: %s)\n", info.Key(), s.Name(), strings.Join(s.Parameters(), ", "))
	}
}

// loadConfig reads the application config. A missing file at the default
// path means defaults.
func loadConfig() (*config.Config, error) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(*configPath)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Empty(), nil
	}
	return cfg, err
}

// resolveRun merges the run file with the command line. Flags given on the
// command line win.
func resolveRun(flags *config.Run) (*config.Run, error) {
	run := &config.Run{}
	if *runPath != "" {
		var err error
		if run, err = config.LoadRun(*runPath); err != nil {
			return nil, err
		}
	}
	for _, it := range flags.Iterators {
		if err := run.SetIterator(it.Name + "=" + it.Raw); err != nil {
			return nil, err
		}
	}
	for k, v := range flags.Params {
		if err := run.SetParam(k + "=" + v); err != nil {
			return nil, err
		}
	}
	if *scriptKey != "" {
		run.Script = *scriptKey
	}
	if *name != "" {
		run.Name = *name
	}
	if *comment != "" {
		run.Comment = *comment
	}
	if run.Script == "" {
		return nil, errors.New("no script selected: use -run or -script (see -list)")
	}
	return run, nil
}

// setupLogging writes the log to stdout and to a timestamped file in dir.
func setupLogging(dir string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, time.Now().Format(timeutil.DirLayout)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return f, nil
}

func logSystemInfo() {
	host, _ := os.Hostname()
	log.Printf("meca %s", version.String())
	log.Printf("system: %s/%s, %d CPUs, %s, host %s", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version(), host)
}

// measure runs one measurement and returns the process exit code.
func measure(flags *config.Run) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 2, err
	}
	run, err := resolveRun(flags)
	if err != nil {
		return 2, err
	}
	info, ok := measurement.Lookup(run.Script)
	if !ok {
		return 2, fmt.Errorf("unknown script %q (see -list)", run.Script)
	}

	logFile, err := setupLogging(cfg.GetLogDir())
	if err != nil {
		return 1, err
	}
	defer logFile.Close()
	monitoring.SetDebug(*debug)
	logSystemInfo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	devices, err := device.Open(ctx, cfg.Devices)
	if err != nil {
		return 1, fmt.Errorf("failed to open devices: %w", err)
	}
	defer func() {
		if err := devices.CloseAll(); err != nil {
			log.Printf("closing devices: %v", err)
		}
	}()

	script := info.New()
	opts := []surface.Option{surface.WithRedrawInterval(cfg.GetRedrawInterval())}
	if cfg.GetRandomizeIterators() {
		opts = append(opts, surface.WithShuffle(nil))
	}
	if *noPlots {
		opts = append(opts, surface.WithoutPlots())
	}
	console := surface.NewConsole(run, script.Parameters(), os.Stdout, opts...)

	engineOpts := []measurement.Option{
		measurement.WithDataDir(cfg.GetDataDir()),
		measurement.WithScriptInfo(info),
		measurement.WithName(run.Name),
	}
	if cfg.GetResetDevicesBeforeSetup() {
		engineOpts = append(engineOpts, measurement.WithResetBeforeSetup(cfg.GetSoftReset()))
	}
	engine := measurement.New(script, devices, console, engineOpts...)
	console.Bind(engine)

	addr := cfg.GetStatusListen()
	if *listen != "" {
		addr = *listen
	}
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if addr != "" {
		go func() {
			if err := console.ListenAndServe(serverCtx, addr); err != nil {
				log.Printf("status API: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		n := 0
		for range sigs {
			n++
			if n == 1 {
				log.Printf("stopping after the current point; interrupt again to cancel")
				engine.Stop()
				continue
			}
			log.Printf("cancelling measurement")
			cancel()
		}
	}()

	log.Printf("running %s (%s)", info.Key(), script.Name())
	res, err := engine.Measure(ctx)
	console.Finish(res, err)
	if err != nil {
		return 1, err
	}
	log.Printf("measurement %s: %d of %d points", res.Status, res.Completed, res.Points)

	switch res.Status {
	case measurement.StatusSkipped:
		return 2, nil
	case measurement.StatusSetupFailed:
		return 1, nil
	}
	if *writeReport {
		if err := renderReport(res); err != nil {
			log.Printf("report: %v", err)
		}
	}
	return 0, nil
}

func renderReport(res measurement.Result) error {
	run, err := report.LoadFile(res.RecordPath)
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(res.Dir, report.FileName))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := run.WriteHTML(f); err != nil {
		if errors.Is(err, report.ErrNoData) {
			return nil
		}
		return err
	}
	log.Printf("report written to %s", f.Name())
	return nil
}
