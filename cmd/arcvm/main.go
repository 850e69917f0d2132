// Command arcvm hosts the engine implemented under vm/, scheduler/,
// and trampoline/: it assembles a handful of bytecode programs by
// hand (this repo has no compiler front end — see DESIGN.md's
// cmd/arcvm section) and runs them through the real scheduler, the way a host
// embedding this engine as a library would. Grounded on the teacher's
// cmd/hey/main.go (a urfave/cli/v3 Command tree with a persistent
// interactive shell), generalized from hey's bufio.Scanner loop to a
// chzyer/readline-backed REPL with history and line editing.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/wudi/arcvm/config"
	"github.com/wudi/arcvm/version"
)

func main() {
	var cfgPath string
	var quantum int64

	app := &cli.Command{
		Name:  "arcvm",
		Usage: "a cooperative Arc-dialect Lisp runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a TOML runtime configuration file",
				Destination: &cfgPath,
			},
			&cli.IntFlag{
				Name:        "quantum",
				Usage:       "bytecode instructions run per scheduler turn (overrides config)",
				Destination: &quantum,
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "print the engine version and exit",
				Action: func(ctx context.Context, cmd *cli.Command, set bool) error {
					if set {
						fmt.Println(version.Version())
						os.Exit(0)
					}
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			demoCommand,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("arcvm: loading config: %w", err)
			}
			if quantum > 0 {
				cfg.VM.Quantum = int(quantum)
			}
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return cli.ShowAppHelp(cmd)
			}
			return runREPL(cfg)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arcvm: %v\n", err)
		os.Exit(1)
	}
}
