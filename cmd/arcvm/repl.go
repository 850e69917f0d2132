package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"

	"github.com/wudi/arcvm/config"
	"github.com/wudi/arcvm/values"
)

// errExit unwinds dispatchREPLLine back to runREPL's loop on "exit"/
// "quit" without printing it as a command error.
var errExit = errors.New("arcvm: repl exit")

// runREPL is the interactive shell entered when arcvm is run with no
// arguments on a terminal (spec.md carries no REPL of its own; this
// one exists purely to drive the demos below interactively). Replaces
// the teacher's bufio.Scanner loop with chzyer/readline so commands
// get history and line editing, the way the teacher's own go.mod
// implied but its shell never actually built.
func runREPL(cfg config.Config) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "arc> ",
		HistoryFile:     historyFilePath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("arcvm: opening readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("arcvm REPL — quantum=%s instructions/turn. Type 'help' for demos, 'exit' to quit.\n",
		humanize.Comma(int64(cfg.VM.Quantum)))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := dispatchREPLLine(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}

func historyFilePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.arcvm_history"
	}
	return ".arcvm_history"
}

func dispatchREPLLine(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "exit", "quit":
		fmt.Println("bye")
		return errExit
	case "help":
		printREPLHelp()
		return nil
	case "factorial":
		n := int64(7)
		if len(fields) > 1 {
			parsed, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return fmt.Errorf("factorial: %w", err)
			}
			n = parsed
		}
		return runSchedulerDemo("factorial", factorialCode(), []values.Value{values.Fixnum(n), values.Fixnum(1)}, func(v values.Value) string {
			return fmt.Sprintf("%d! = %s", n, humanize.Comma(v.Fixnum))
		})
	case "adder":
		return runAdderDemo()
	case "callcc":
		return runCallccDemo()
	case "onerr":
		return runOnErrDemo()
	default:
		return fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
}

func printREPLHelp() {
	fmt.Println(`available demos:
  factorial [n]   tail-recursive fact-iter(n, 1), default n=7
  adder           upward funarg + mutation through a shared captured frame
  callcc          escaping continuation short-circuits a list search
  onerr           catch a divide-by-zero fault with on-err
  exit            leave the REPL`)
}
