package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/conf"
	"github.com/latticedb/lattice/server/innodb/engine"
)

func main() {
	cfg := conf.Default()

	// --config names the ini file itself, so it has to be read before the
	// rest of the flags are bound against it; everything else loads
	// ini-then-flags so a flag on the command line always wins over the
	// file.
	if err := cfg.LoadFile(scanConfigFlag(os.Args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
		os.Exit(1)
	}

	fs := flag.NewFlagSet("enginectl", flag.ExitOnError)
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if err := logger.InitLogger(logger.LogConfig{LogLevel: "info"}); err != nil {
		fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
		os.Exit(1)
	}

	if cfg.Init {
		if err := os.RemoveAll(cfg.DataDir); err != nil {
			fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
			os.Exit(1)
		}
	}

	eng, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
		os.Exit(1)
	}

	if cfg.Init {
		logger.Infof("initialized data directory %s", cfg.DataDir)
		_ = eng.Close()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Infof("received SIGINT, flushing and exiting")
		_ = eng.Close()
		os.Exit(0)
	}()

	s := &session{eng: eng}
	if cfg.Database != "" {
		db, err := eng.Catalog.UseDatabase(cfg.Database)
		if err != nil {
			fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
		} else {
			s.db = db
		}
	}

	// -f/--filepath names the batch command file to read from; with no
	// file given, commands are read from stdin instead. -b/--batch only
	// gates the interactive prompt and the output format (§6).
	in := os.Stdin
	if cfg.Filepath != "" {
		f, err := os.Open(cfg.Filepath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
			_ = eng.Close()
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := runBatch(s, in, os.Stdout, cfg.Batch); err != nil {
		fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
	}

	if err := eng.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "{\"!ERROR\", %q}\n", err.Error())
		os.Exit(1)
	}
}

// scanConfigFlag finds --config's value without going through the full
// flag.FlagSet, since the ini file it names has to load before the rest of
// the flags are bound against it.
func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}
