// Command pdfmask is a terminal front end for marking and redacting
// rectangles in PDF files, one file or a whole folder at a time.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/wudi/pdfmask/config"
	"github.com/wudi/pdfmask/observability"
)

type options struct {
	configPath string
	target     string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfmask: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfmask: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfmask [flags] [file.pdf | folder]\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "pdfmask.yaml", "Configuration file (optional)")
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
		return options{}, errors.New("too many arguments")
	}
	opts.target = flag.Arg(0)
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logDir := ""
	if cfg.Log.ToFile {
		logDir = cfg.LogDir()
	}
	log, sync, err := observability.NewZap(observability.ZapConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    logDir,
	})
	if err != nil {
		return err
	}
	defer sync()
	log.Info("application started", observability.String("data_dir", cfg.DataDir))
	defer log.Info("application finished")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(cfg, log, bufio.NewReader(os.Stdin), os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.ensureLicense(ctx); err != nil {
		return err
	}
	if opts.target != "" {
		if err := a.openTarget(ctx, opts.target); err != nil {
			a.report(err)
		}
	}
	runREPL(ctx, a.commands(), a.status, a.in)
	return nil
}
