package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/ftahirops/nvmequal/config"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/procedure"
	"github.com/ftahirops/nvmequal/runner"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

// Options holds the command line.
type Options struct {
	Config      string   `short:"c" long:"config" description:"path to the config file" value-name:"FILE"`
	Report      string   `short:"r" long:"report" description:"path of the text report to write" value-name:"FILE"`
	Select      []string `short:"s" long:"select" description:"run only this procedure, repeatable; overrides execute in the config" value-name:"NAME"`
	List        bool     `long:"list" description:"print the procedures in run order and exit"`
	TUI         bool     `long:"tui" description:"show live progress instead of console logs"`
	Record      string   `long:"record" description:"append procedure outcomes to FILE as JSON lines" value-name:"FILE"`
	History     string   `long:"history" description:"store the run in a sqlite history database" value-name:"FILE"`
	LockDir     string   `long:"lock-dir" description:"directory of the per-drive run locks" default:"/run/lock" value-name:"DIR"`
	WriteConfig string   `long:"write-config" description:"write a config with every default to FILE and exit" value-name:"FILE"`
	Debug       bool     `short:"d" long:"debug" description:"debug logging"`
	Version     bool     `short:"v" long:"version" description:"display the version and exit"`
}

const description = `Qualifies a NVMe disk. Ensures it passes a robust set of tests.
WARNING: All data on the drive will be erased.`

func parse(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	parser.Name = "nvmequal"
	parser.Usage = "-c FILE -r FILE [OPTIONS]"
	parser.LongDescription = description
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// Run parses flags and starts a qualification run.
func Run() error {
	opts, err := parse(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		// go-flags already printed the parse error
		os.Exit(2)
	}

	switch {
	case opts.Version:
		fmt.Printf("nvmequal v%s\n", Version)
		return nil
	case opts.WriteConfig != "":
		return config.Save(opts.WriteConfig, config.Default())
	case opts.List:
		return list(os.Stdout, opts)
	}

	if opts.Config == "" || opts.Report == "" {
		return errors.New("both --config and --report are required")
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if err := checkSelection(opts, &cfg); err != nil {
		return err
	}

	logger.Level.Set(logger.ParseLevel(cfg.Tests.General.LogLevel))
	if opts.Debug {
		logger.Level.Set(logger.ParseLevel("debug"))
	}
	log := logger.New()

	if os.Geteuid() != 0 {
		log.Warn("running without root, nvme and sedutil commands will most likely fail")
	}

	lock, err := lockDrive(opts.LockDir, cfg.Drive.Name)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := &qualification{
		opts: opts,
		cfg:  &cfg,
		env:  procedure.NewEnv(&cfg, runner.Exec{}),
		log:  log,
		out:  os.Stdout,

		console: logger.NewConsoleHandler(os.Stderr),
	}
	return q.run(ctx)
}

func list(w io.Writer, opts *Options) error {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return err
		}
	}
	for _, p := range procedure.All(procedure.NewEnv(&cfg, runner.Exec{})) {
		fmt.Fprintf(w, "%-30s %s\n", p.Name(), p.Description())
	}
	return nil
}

// checkSelection resolves --select over the configured execute list and
// rejects unknown procedure names.
func checkSelection(opts *Options, cfg *config.Config) error {
	if len(opts.Select) > 0 {
		cfg.Execute = opts.Select
	}
	known := procedure.Names(procedure.All(procedure.NewEnv(cfg, runner.Exec{})))
	var unknown []string
	for _, name := range cfg.Execute {
		if !slices.Contains(known, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown procedure %s, known: %s",
			strings.Join(unknown, ", "), strings.Join(known, ", "))
	}
	return nil
}
