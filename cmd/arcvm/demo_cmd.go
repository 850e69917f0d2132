package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/wudi/arcvm/failure"
	"github.com/wudi/arcvm/ffi"
	"github.com/wudi/arcvm/scheduler"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

var demoCommand = &cli.Command{
	Name:  "demo",
	Usage: "run one of the engine's built-in bytecode demonstrations",
	Commands: []*cli.Command{
		{
			Name:  "factorial",
			Usage: "tail-recursive fact-iter(7, 1), run through the scheduler",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runSchedulerDemo("factorial", factorialCode(), []values.Value{values.Fixnum(7), values.Fixnum(1)}, func(v values.Value) string {
					return fmt.Sprintf("7! = %s", humanize.Comma(v.Fixnum))
				})
			},
		},
		{
			Name:  "adder",
			Usage: "upward funarg: make-adder(5) returns (adder . set-n!); mutating n through set-n! is visible to adder",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runAdderDemo()
			},
		},
		{
			Name:  "callcc",
			Usage: "escaping continuation: search a list for its first negative number without unwinding frame by frame",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runCallccDemo()
			},
		},
		{
			Name:  "onerr",
			Usage: "catch a divide-by-zero fault with on-err instead of letting it reach the host error sink",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runOnErrDemo()
			},
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return cli.ShowSubcommandHelp(cmd)
	},
}

// runSchedulerDemo spawns fn(args...) on a fresh Scheduler and drives
// it to completion, then prints a vm.Profile report the way a host
// inspecting a long-running thread pool would.
func runSchedulerDemo(name string, code *vm.Code, args []values.Value, render func(values.Value) string) error {
	globals := vm.NewGlobals()
	profile := vm.NewProfile()
	sched := scheduler.New(globals, scheduler.Config{Quantum: 10000, Profile: profile})
	fn := values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: code}}

	th := sched.Spawn(fn, args)
	sched.Run()

	fmt.Printf("%s: %s (thread #%d)\n", name, render(th.VALR), th.ID)
	fmt.Print(profile.Report(3))
	return nil
}

func runAdderDemo() error {
	globals := vm.NewGlobals()
	sched := scheduler.New(globals, scheduler.Config{Quantum: 10000})
	makeAdder, _, _ := adderCodes()

	mk := sched.Spawn(values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: makeAdder}}, []values.Value{values.Fixnum(5)})
	sched.Run()
	pair, ok := mk.VALR.Obj.(*values.Cons)
	if !ok || mk.VALR.Type != values.TypeCons {
		return fmt.Errorf("arcvm: make-adder did not return a pair")
	}
	adder, setN := pair.Car, pair.Cdr

	first := sched.Spawn(adder, []values.Value{values.Fixnum(10)})
	sched.Run()
	fmt.Printf("adder(10) before mutation = %d\n", first.VALR.Fixnum)

	sched.Spawn(setN, []values.Value{values.Fixnum(7)})
	sched.Run()

	second := sched.Spawn(adder, []values.Value{values.Fixnum(10)})
	sched.Run()
	fmt.Printf("adder(10) after set-n!(7) = %d\n", second.VALR.Fixnum)
	return nil
}

func runCallccDemo() error {
	globals := vm.NewGlobals()
	sched := scheduler.New(globals, scheduler.Config{Quantum: 10000})

	withNegative, notfoundSym := escapeSearchDemo(consInts([]int64{4, 9, -3, 7}))
	th := sched.Spawn(values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: withNegative}}, nil)
	sched.Run()
	if th.VALR.Type == values.TypeFixnum {
		fmt.Printf("search found %d, escaping without unwinding the rest of the list\n", th.VALR.Fixnum)
	} else if th.VALR.Type == values.TypeSymbol && th.VALR.Sym == notfoundSym {
		fmt.Println("search found nothing negative")
	}

	allPositive, _ := escapeSearchDemo(consInts([]int64{4, 9, 2, 7}))
	th2 := sched.Spawn(values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: allPositive}}, nil)
	sched.Run()
	if th2.VALR.Type == values.TypeSymbol && th2.VALR.Sym == notfoundSym {
		fmt.Println("search over an all-positive list returns normally via the same continuation")
	}
	return nil
}

func runOnErrDemo() error {
	m := vm.NewVM()
	var unhandled *failure.Exception
	m.OnUnhandled = func(t *vm.Thread, exc *failure.Exception) { unhandled = exc }

	globals := vm.NewGlobals()
	t := vm.NewThread(1, globals)

	caughtSym := demoSymbols.Intern("caught")
	handler := ffi.SyncFunc{Min: 1, Fn: func(args []values.Value) (values.Value, error) {
		exc, _ := args[0].Obj.(*failure.Exception)
		fmt.Printf("on-err handler ran for a %s fault: %s\n", exc.Kind, exc.Details)
		return values.Sym(caughtSym), nil
	}}
	body := values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: riskyDivCode()}}

	result, err := m.RunOnErr(t, values.Value{Type: values.TypeCFunctionSync, Obj: handler}, body)
	if err != nil {
		return err
	}
	if unhandled != nil {
		return fmt.Errorf("arcvm: exception still reached the host sink: %v", unhandled)
	}
	if result.Type == values.TypeSymbol && result.Sym == caughtSym {
		fmt.Println("on-err returned 'caught, exactly as if the division had succeeded")
	}
	return nil
}
