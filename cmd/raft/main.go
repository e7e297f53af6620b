package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/najoast/raft/bootstrap"
	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/config"
	"github.com/najoast/raft/heap"
	"github.com/najoast/raft/logs"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "run":
		err = cmdRun(os.Args[2:], os.Stdout)
	case "disasm":
		err = cmdDisasm(os.Args[2:], os.Stdout)
	case "version", "-v", "--version":
		fmt.Printf("raft %s (bytecode format %s)\n", version, bytecode.FormatVersion)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `raft bytecode actor runtime

Usage:
  raft run [-config file] [-watch] [-send value]... <file.raft>
  raft disasm <file.raft>
  raft version

Commands:
  run      Load a bytecode module and run it as the root actor
  disasm   Print a bytecode module as a readable listing
  version  Print the runtime and bytecode format versions

Flags (run):
  -config  Configuration file (default: raft.yaml/.toml/.json in the search paths)
  -watch   Reload the configuration file while the program runs
  -send    Message for the root actor's mailbox; repeatable.
           Forms: 42, 1.5, true, :atom, anything else is a string`)
}

// sendFlags collects repeated -send values.
type sendFlags []string

func (s *sendFlags) String() string { return strings.Join(*s, ",") }

func (s *sendFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdRun(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		configFile string
		watch      bool
		sends      sendFlags
	)
	fs.StringVar(&configFile, "config", "", "configuration file")
	fs.BoolVar(&watch, "watch", false, "reload the configuration file while running")
	fs.Var(&sends, "send", "message for the root actor (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run: expected exactly one bytecode file")
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(configFile)
	if err != nil {
		return err
	}

	logger, err := logs.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	path, err := cfg.ResolveModule(fs.Arg(0))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read bytecode: %w", err)
	}

	app, err := bootstrap.NewApplication(cfg, logger)
	if err != nil {
		return err
	}
	rt := app.Runtime()
	if _, err := rt.Load(data); err != nil {
		_ = rt.Stop(context.Background())
		return err
	}

	h := rt.System().Heap()
	for _, s := range sends {
		rt.SendOnStart(parseValue(h, s))
	}

	if watch {
		if configFile == "" {
			if configFile, err = loader.FindConfigFile(); err != nil {
				_ = rt.Stop(context.Background())
				return fmt.Errorf("-watch needs a configuration file: %w", err)
			}
		}
		if err := app.WatchConfig(configFile, loader); err != nil {
			_ = rt.Stop(context.Background())
			return err
		}
	}

	app.OnProgramExit(func(rt *bootstrap.RuntimeService) {
		report(out, rt)
	})

	return app.Run(context.Background())
}

// parseValue turns a -send argument into a runtime value.
func parseValue(h *heap.Heap, s string) heap.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return heap.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return heap.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return heap.Bool(b)
	}
	if name, ok := strings.CutPrefix(s, ":"); ok && name != "" {
		return h.Atom(name)
	}
	return h.NewString(s)
}

// report prints the root actor's final stack and the run summary.
func report(w io.Writer, rt *bootstrap.RuntimeService) {
	system := rt.System()
	h := system.Heap()

	if snap, ok := system.Observe(rt.Root()); ok {
		parts := make([]string, len(snap.Stack))
		for i, v := range snap.Stack {
			parts[i] = h.Format(v)
		}
		fmt.Fprintf(w, "%s %s [%s]\n", snap.Pid, snap.State, strings.Join(parts, " "))
		if snap.Reason != nil {
			fmt.Fprintf(w, "  reason: %v\n", snap.Reason)
		}
	}

	res, _ := rt.Result()
	for _, c := range res.Conditions {
		fmt.Fprintf(w, "  condition: %v\n", c)
	}
	for _, pid := range res.Parked {
		fmt.Fprintf(w, "  parked: %s\n", pid)
	}

	stats := system.Stats()
	fmt.Fprintf(w, "%s steps, %d actors, %d restarts, %s live heap in %s\n",
		humanize.Comma(int64(res.Steps)),
		stats.Actors,
		stats.Restarts,
		humanize.Bytes(uint64(stats.Heap.LiveBytes)),
		res.Duration)
}

func cmdDisasm(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("disasm: expected exactly one bytecode file")
	}
	m, err := bytecode.ReadFile(args[0])
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, m.Disassemble())
	return err
}
