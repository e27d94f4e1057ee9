// Kiln CLI - runs and inspects bytecode bundles
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kilnlang/kiln/manifest"
	"github.com/kilnlang/kiln/vm"
	"github.com/kilnlang/kiln/vm/dist"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	mainEntry := flag.String("m", "", "Entry function (overrides the bundle's entry)")
	noJIT := flag.Bool("no-jit", false, "Disable adaptive compilation")
	trace := flag.Bool("trace", false, "Emit JIT diagnostics (same as KILN_JIT_TRACE=1)")
	disasm := flag.Bool("disasm", false, "Disassemble the bundle instead of running it")
	stats := flag.Bool("stats", false, "Print JIT and profiler statistics after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kiln [options] bundle.kc\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Kiln bytecode bundle.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  kiln app.kc              # Run the bundle's entry function\n")
		fmt.Fprintf(os.Stderr, "  kiln -m bench app.kc     # Run 'bench' instead\n")
		fmt.Fprintf(os.Stderr, "  kiln -disasm app.kc      # List the bundle's bytecode\n")
		fmt.Fprintf(os.Stderr, "  kiln -trace -stats app.kc\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	bundle, err := dist.UnmarshalBundle(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *disasm {
		for _, wc := range bundle.Chunks {
			c, err := dist.ToVM(wc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("== %s/%d (locals=%d)\n%s\n", c.Name, c.Arity(), c.NumLocals, c.Disassemble())
		}
		return
	}

	mf, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		mf = manifest.Default()
	}
	opts := mf.Options()
	if *noJIT {
		opts.JIT = false
	}
	if *trace {
		opts.Trace = true
	}
	if opts.Trace {
		commonlog.Configure(2, nil)
	}

	m := vm.NewMachine(opts)
	entry, err := dist.Load(m, bundle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *mainEntry != "" {
		entry = *mainEntry
	}
	if *verbose {
		fmt.Printf("Loaded %d chunks from %s, entry %q, machine %s\n",
			len(bundle.Chunks), path, entry, m.ID)
	}

	result, err := m.Call(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !result.IsNone() {
		fmt.Println(result.String())
	}

	if mf.Profile.Store != "" {
		store, err := vm.OpenProfileStore(mf.Profile.Store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			if err := store.RecordRun(m); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			store.Close()
		}
	}

	if *stats {
		js := m.JIT().Stats()
		ps := m.Profiler().Stats()
		fmt.Fprintf(os.Stderr, "jit: functions %d/%d compiled (%d failed), loops %d/%d compiled (%d failed), native dispatches %d\n",
			js.FunctionsCompiled, js.FunctionAttempts, js.FunctionFailures,
			js.LoopsCompiled, js.LoopAttempts, js.LoopFailures, js.CompiledCalls)
		fmt.Fprintf(os.Stderr, "profiler: %d functions tracked (%d hot), %d loops tracked (%d hot)\n",
			ps.TrackedFunctions, ps.HotFunctions, ps.TrackedLoops, ps.HotLoops)
	}
}
