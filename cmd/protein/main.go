// Command protein runs the YAML-tree macro preprocessor described in
// spec.md: `protein <input> [-o <output>] [--set k=v ...]`.
//
// Structured like cmd/snapsql/main.go's kong.Parse(&CLI) / Context
// pattern, trimmed to Protein's single-command CLI surface (spec §6 "CLI
// surface"), with fatih/color carrying the diagnostics-stream coloring
// the teacher's CLI uses for .print output and error reporting.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/buffer"
	"github.com/fralau/protein/internal/emit"
	"github.com/fralau/protein/internal/exprshim"
	"github.com/fralau/protein/internal/frame"
	"github.com/fralau/protein/internal/module"
	"github.com/fralau/protein/internal/nodeyaml"
	"github.com/fralau/protein/internal/sqlengine"
	"github.com/fralau/protein/internal/walker"
)

// CLI is Protein's single-command flag surface (spec §6: "protein <input>
// [-o <output>] [--set k=v ...] [--help]"), plus the ambient/supplemented
// flags SPEC_FULL §7/§10 add (--verbose/--quiet logging levels,
// --config, --dry-run).
var CLI struct {
	Input  string   `arg:"" help:"Input YAML/Protein document to render."`
	Output string   `help:"Write the rendered document here instead of stdout." short:"o"`
	Set    []string `help:"Override a top-level .define entry, e.g. --set name=value." name:"set"`

	Config  string `help:"Project configuration file." default:"protein.yaml"`
	DryRun  bool   `help:"Render but skip .export/.save_buffer/.write side effects." name:"dry-run"`
	Verbose bool   `help:"Enable verbose (debug-level) logging." short:"v"`
	Quiet   bool   `help:"Suppress all but error-level logging." short:"q"`

	Version kong.VersionFlag `help:"Show version information."`
}

func main() {
	kong.Parse(&CLI, kong.Vars{"version": "protein 0.1.0"})

	if err := run(); err != nil {
		reportError(err)
		os.Exit(exitCode(err))
	}
}

func run() error {
	configureLogging()

	cfg, err := protein.LoadConfig(CLI.Config)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(CLI.Input)
	if err != nil {
		return fmt.Errorf("%w: reading %q: %s", protein.ErrIO, CLI.Input, err)
	}

	root, err := nodeyaml.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: parsing %q: %s", protein.ErrParse, CLI.Input, err)
	}

	overrides, err := parseSetFlags(CLI.Set)
	if err != nil {
		return err
	}

	for name, value := range cfg.Set {
		if _, ok := overrides[name]; !ok {
			overrides[name] = exprshim.ParseLiteral(value)
		}
	}

	root, err = applyOverrides(root, overrides)
	if err != nil {
		return err
	}

	w, sql, err := buildWalker(cfg, filepath.Dir(CLI.Input), CLI.Input)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sql.CloseAll(); cerr != nil {
			slog.Error("closing SQL engines", "error", cerr)
		}
	}()

	result, err := w.Render(root)
	if err != nil {
		return err
	}

	return emitResult(w, result)
}

func buildWalker(cfg *protein.Config, baseDir, file string) (*walker.Walker, *sqlengine.Registry, error) {
	builtins := frame.New()

	engine := exprshim.NewEngine()
	loader := module.NewLoader()

	if err := loader.LoadInto(builtins, engine, "env"); err != nil {
		return nil, nil, fmt.Errorf("seeding builtins: %w", err)
	}

	stack := frame.NewStack(builtins)
	stack.Push(frame.New())

	sql := sqlengine.NewRegistry(cfg.Databases)

	w := &walker.Walker{
		Stack:   stack,
		Expr:    engine,
		Modules: loader,
		Buffers: buffer.NewRegistry(),
		Emit:    emit.New(cfg),
		SQL:     sql,
		Diag:    diagnostics{},
		BaseDir: baseDir,
		File:    file,
		DryRun:  CLI.DryRun,
	}

	return w, sql, nil
}

func emitResult(w *walker.Walker, result protein.Node) error {
	normalized := protein.Normalize(result)

	format := w.Emit.InferFormat(CLI.Output)
	if CLI.Output == "" {
		format = w.Emit.InferFormat(CLI.Input)
	}

	data, err := w.Emit.Emit(format, normalized, nil)
	if err != nil {
		return fmt.Errorf("%w: rendering output: %s", protein.ErrIO, err)
	}

	if CLI.Output == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(CLI.Output), 0o755); err != nil && filepath.Dir(CLI.Output) != "." {
		return fmt.Errorf("%w: %s", protein.ErrIO, err)
	}

	if err := os.WriteFile(CLI.Output, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %q: %s", protein.ErrIO, CLI.Output, err)
	}

	return nil
}

// diagnostics implements walker.Diagnostics, printing `.print` lines to
// stderr in cyan (spec.md SPEC_FULL §7: "stdout is reserved for the one
// legitimate rendered document on success").
type diagnostics struct{}

func (diagnostics) Println(line string) {
	color.New(color.FgCyan).Fprintln(os.Stderr, line)
}

func configureLogging() {
	level := slog.LevelInfo

	switch {
	case CLI.Quiet:
		level = slog.LevelError
	case CLI.Verbose:
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// parseSetFlags turns `--set name=value` flags into Nodes, reusing the
// expression shim's literal parser so `--set users="[Laurent, Paul]"`
// recovers a Sequence the same way a literal-flagged string would (spec.md
// SPEC_FULL §10: "not a separate parser").
func parseSetFlags(flags []string) (map[string]protein.Node, error) {
	overrides := make(map[string]protein.Node, len(flags))

	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("%w: --set %q must be name=value", protein.ErrArg, flag)
		}

		overrides[name] = exprshim.ParseLiteral(value)
	}

	return overrides, nil
}

// applyOverrides implements spec §6's "applied to the top-level .define
// block of the input tree (if the root is not a mapping, one is
// synthesized around the existing root)": CLI values win over anything
// already in .define.
func applyOverrides(root protein.Node, overrides map[string]protein.Node) (protein.Node, error) {
	if len(overrides) == 0 {
		return root, nil
	}

	if root.Kind != protein.KindMapping {
		return protein.Map(
			protein.Entry{Key: ".define", Value: overrideMapping(nil, overrides)},
			protein.Entry{Key: ".do", Value: root},
		), nil
	}

	defineNode, hasDefine := root.Get(".define")

	var existing []protein.Entry
	if hasDefine && defineNode.Kind == protein.KindMapping {
		existing = defineNode.Mapping
	}

	merged := overrideMapping(existing, overrides)

	out := make([]protein.Entry, 0, len(root.Mapping)+1)
	replaced := false

	for _, e := range root.Mapping {
		if e.Key == ".define" {
			out = append(out, protein.Entry{Key: ".define", Value: merged})
			replaced = true

			continue
		}

		out = append(out, e)
	}

	if !replaced {
		out = append([]protein.Entry{{Key: ".define", Value: merged}}, out...)
	}

	return protein.Map(out...), nil
}

// overrideMapping rebuilds existing with overrides applied on top,
// preserving existing's key order and appending any override name not
// already present.
func overrideMapping(existing []protein.Entry, overrides map[string]protein.Node) protein.Node {
	seen := make(map[string]bool, len(overrides))
	out := make([]protein.Entry, 0, len(existing)+len(overrides))

	for _, e := range existing {
		if v, ok := overrides[e.Key]; ok {
			out = append(out, protein.Entry{Key: e.Key, Value: v})
			seen[e.Key] = true

			continue
		}

		out = append(out, e)
	}

	for name, v := range overrides {
		if !seen[name] {
			out = append(out, protein.Entry{Key: name, Value: v})
		}
	}

	return protein.Map(out...)
}

func asExit(err error, target **protein.Exit) bool {
	if e, ok := err.(*protein.Exit); ok {
		*target = e
		return true
	}

	return false
}

func reportError(err error) {
	var exit *protein.Exit
	if asExit(err, &exit) {
		if exit.Message != "" {
			color.New(color.FgYellow).Fprintln(os.Stderr, exit.Message)
		}

		return
	}

	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
}

// preprocessingErrors are the sentinel errors spec §7's exit-code table
// calls "a preprocessing error with location" (exit code 2), as opposed to
// I/O/SQL failures against the outside world (exit code 1).
var preprocessingErrors = []error{
	protein.ErrParse,
	protein.ErrDupKey,
	protein.ErrUnknownConstruct,
	protein.ErrUndefined,
	protein.ErrExpr,
	protein.ErrType,
	protein.ErrArg,
}

func exitCode(err error) int {
	var exit *protein.Exit
	if asExit(err, &exit) {
		return exit.Code
	}

	for _, sentinel := range preprocessingErrors {
		if errors.Is(err, sentinel) {
			return 2
		}
	}

	return 1
}
