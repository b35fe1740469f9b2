// Command flx is the thin driver spec.md §6 describes as "the
// collaborator, reproduced only for boundary clarity": it is not part
// of the core's tested semantics, but a language core with no runnable
// entry point cannot be exercised end-to-end, so SPEC_FULL.md §6
// includes it as a concrete component. It wires
// lexer -> parser -> (resolver + loader) -> analyzer -> {eval | compiler+vm}
// behind a github.com/urfave/cli/v2 flag set, grounded on the pack's
// own indirect urfave/cli dependency.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/internal/loader"
	"github.com/gaarutyunov/flx/pkg/analyzer"
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/builtin"
	"github.com/gaarutyunov/flx/pkg/bytecode"
	"github.com/gaarutyunov/flx/pkg/compiler"
	"github.com/gaarutyunov/flx/pkg/eval"
	"github.com/gaarutyunov/flx/pkg/parser"
	"github.com/gaarutyunov/flx/pkg/resolver"
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
	"github.com/gaarutyunov/flx/pkg/vm"
)

func main() {
	app := &cli.App{
		Name:      "flx",
		Usage:     "run an flx program",
		UsageText: "flx [flags] [program_args...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "enable debug-mode output (timing + bytecode dump)"},
			&cli.StringFlag{Name: "engine", Aliases: []string{"e"}, Value: "vm", Usage: "ast or vm"},
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Value: ".", Usage: "project root for resolving imports"},
			&cli.StringFlag{Name: "main", Aliases: []string{"m"}, Required: true, Usage: "main source file (relative to workspace or stdlib)"},
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "additional source file (repeatable)"},
		},
		Action:                 run,
		HideHelpCommand:        true,
		UseShortOptionHandling: true,
		Commands: []*cli.Command{
			{
				Name:   "docs",
				Hidden: true,
				Usage:  "render CLI help as markdown",
				Action: func(c *cli.Context) error {
					md, err := c.App.ToMarkdown()
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, md)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	debug := c.Bool("debug")
	engine := c.String("engine")
	workspace := c.String("workspace")
	mainPath := c.String("main")
	extras := c.StringSlice("source")
	cpargs := c.Args().Slice()

	ld := loader.New(workspace, workspace+"/stdlib")

	programs, err := loadAll(ld, mainPath, extras)
	if err != nil {
		return err
	}

	builtins := builtin.NewDefault(os.Stdout, os.Stdin)

	an := analyzer.New(builtins.Signatures()...)
	if errs := an.Analyze(mainPath, programs); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return &diag.SemanticError{Message: fmt.Sprintf("%d semantic error(s)", len(errs))}
	}

	start := time.Now()
	heap := value.NewHeap()

	argsVal := make([]*value.Value, len(cpargs))
	for i, a := range cpargs {
		argsVal[i] = value.NewString(a)
	}
	cpargsValue := value.NewArray(argsVal, types.String)

	var code int
	var runErr error
	switch engine {
	case "ast":
		e := eval.New(heap, builtins)
		e.SetGlobal("cpargs", cpargsValue)
		code, runErr = e.Run(programs)
	case "vm":
		prog, cerr := compiler.Compile(builtins, programs)
		if cerr != nil {
			return cerr
		}
		if debug {
			fmt.Fprint(os.Stderr, bytecode.Dump(prog.Bytecode))
		}
		m := vm.New(heap, builtins)
		m.SetGlobal("cpargs", cpargsValue)
		code, runErr = m.Run(prog)
	default:
		return fmt.Errorf("unknown engine %q: must be ast or vm", engine)
	}

	if debug {
		fmt.Fprintf(os.Stderr, "flx: %s engine, %v elapsed, exit %d\n", engine, time.Since(start), code)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
	os.Exit(code)
	return nil
}

// loadAll reads and parses the main file and every -s source, then
// follows `using` imports breadth-first (spec.md §4.3: "the loader
// calls the resolver, parses returned files, and loops until the
// unresolved list is empty") until every dependency has been loaded
// exactly once.
func loadAll(ld *loader.Loader, mainPath string, extras []string) ([]*ast.Program, error) {
	parseFile := func(source, path string) (*ast.Program, error) {
		p, err := parser.New(path, []byte(source))
		if err != nil {
			return nil, err
		}
		return p.Parse()
	}

	var programs []*ast.Program
	var pending []*ast.Program

	src, path, err := ld.LoadMain(mainPath)
	if err != nil {
		return nil, err
	}
	mainProg, err := parseFile(src, path)
	if err != nil {
		return nil, err
	}
	programs = append(programs, mainProg)
	pending = append(pending, mainProg)

	for _, extra := range extras {
		src, path, err := ld.LoadMain(extra)
		if err != nil {
			return nil, err
		}
		prog, err := parseFile(src, path)
		if err != nil {
			return nil, err
		}
		programs = append(programs, prog)
		pending = append(pending, prog)
	}

	known := map[string]bool{}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		r := resolver.New(known)
		resolver.Walk(r, cur)
		for _, dotted := range r.Unresolved() {
			src, path, err := ld.Load(dotted)
			if err != nil {
				return nil, err
			}
			prog, err := parseFile(src, path)
			if err != nil {
				return nil, err
			}
			programs = append(programs, prog)
			pending = append(pending, prog)
		}
	}

	return programs, nil
}
