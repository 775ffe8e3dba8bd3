// Package module implements the "Module protocol" of spec §6 and the
// `.import_module`/`.module` construct's collaborator, spec §9's
// "explicit ModuleLoader trait". Go has no dynamic-import equivalent of
// the host scripting runtime the distilled spec describes, so Loader is
// a static, compiled-in name→entry-point registry, grounded on the
// teacher's own name→implementation registry pattern
// (GenerationConfig.Generators map[string]GeneratorConfig, resolved by
// string key, picking langs/{gogen,pygen,mockgen} the same way).
package module

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/exprshim"
	"github.com/fralau/protein/internal/frame"
)

// EntryFunc is a module's entry point (spec §6: "A module exposes an
// entry point that accepts a ModuleEnvironment object").
type EntryFunc func(env *Environment)

// Environment is the ModuleEnvironment of spec §6: three surfaces a
// module's entry point populates.
type Environment struct {
	// Variables collects every exported name (callable, filter, or
	// inert) so Loader can merge them into the caller's current frame in
	// one step.
	Variables map[string]protein.Value

	engine *exprshim.Engine
}

func newEnvironment(engine *exprshim.Engine) *Environment {
	return &Environment{Variables: make(map[string]protein.Value), engine: engine}
}

// Export adds fn as a HostCallable: invocable both from expressions
// (`name(args...)`) and as a dotted construct (`.name: [args]`), per
// spec §6 "@env.export on a function (adds callable to expressions AND
// as a dotted construct)".
func (e *Environment) Export(name string, fn protein.CallableFunc) {
	e.Variables[name] = protein.Value{Kind: protein.ValueHostCallable, HostCallable: fn}
}

// Filter adds fn as a HostFilter: invocable only as a template filter,
// per spec §6 "@env.filter on a function (adds as filter only)". It is
// also registered on the shared expression engine so expression text can
// call it as `name(value)`.
func (e *Environment) Filter(name string, fn protein.CallableFunc) {
	e.Variables[name] = protein.Value{Kind: protein.ValueHostFilter, HostFilter: fn}

	if e.engine != nil {
		e.engine.RegisterFilter(name, fn)
	}
}

// Var binds name to an inert value directly, per spec §6
// "env.variables[name] = value".
func (e *Environment) Var(name string, v protein.Node) {
	e.Variables[name] = protein.FromNode(v)
}

// Loader is the compiled-in module registry backing
// `.import_module`/`.module` (spec §4.4, §6, §9).
type Loader struct {
	entries map[string]EntryFunc
}

// NewLoader builds a Loader with the builtin modules registered: env
// (wraps get_env), strings (HostFilters over strings.*), collections
// (HostCallables for sorting/grouping sequences) — spec.md SPEC_FULL §6
// "Module loading".
func NewLoader() *Loader {
	l := &Loader{entries: make(map[string]EntryFunc)}

	l.Register("env", envModule)
	l.Register("strings", stringsModule)
	l.Register("collections", collectionsModule)

	return l
}

// Register adds or replaces the entry point bound to name.
func (l *Loader) Register(name string, fn EntryFunc) {
	l.entries[name] = fn
}

// Load implements walker.ModuleLoader: path is resolved to a registered
// module by base name (directory and extension stripped, so
// `./lib/env.py`, `env.go`, and bare `env` all resolve to the same
// entry), and the module's exports/filters/variables are merged into
// stack's current frame.
func (l *Loader) Load(path string, stack *frame.Stack, engine *exprshim.Engine) error {
	name := moduleName(path)

	return l.LoadInto(stack.Current(), engine, name)
}

// LoadInto runs the named module's entry point and merges its exports
// directly into f, independent of any frame stack — used by the CLI to
// seed the builtins frame with the `env` module's `get_env` before
// rendering begins, so it is always available without an explicit
// `.import_module`.
func (l *Loader) LoadInto(f *frame.Frame, engine *exprshim.Engine, name string) error {
	entry, ok := l.entries[name]
	if !ok {
		return fmt.Errorf("unknown module %q", name)
	}

	env := newEnvironment(engine)
	entry(env)

	for k, v := range env.Variables {
		f.Set(k, v)
	}

	return nil
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
