package walker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/nodeyaml"
)

// importModuleHandler implements `.import_module`/`.module: <path>`
// (spec §4.4, §6 "Module protocol"): the path is resolved relative to
// the current document and handed to the ModuleLoader collaborator,
// which merges variables/exports/filters into the current frame and
// engine filter table.
func importModuleHandler(w *Walker, value protein.Node) (protein.Node, error) {
	walked, err := w.walk(value)
	if err != nil {
		return protein.Null, err
	}

	if walked.Kind != protein.KindString {
		return protein.Null, fmt.Errorf("%w: .import_module value must be a path string", protein.ErrArg)
	}

	if w.Modules == nil {
		return protein.Null, fmt.Errorf("%w: no module loader configured", protein.ErrIO)
	}

	path := resolvePath(w.BaseDir, walked.String)

	if err := w.Modules.Load(path, w.Stack, w.Expr); err != nil {
		return protein.Null, fmt.Errorf("%w: loading module %q: %s", protein.ErrIO, path, err)
	}

	return protein.Null, nil
}

func resolvePath(baseDir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(baseDir, name)
}

// loadSpec pulls the {.filename, .format?, .args?} shape shared by
// `.load` and `.export`, also accepting the `.load: path` shorthand.
type loadSpec struct {
	filename string
	format   string
	args     map[string]protein.Node
	comment  string
}

func (w *Walker) parseFileSpec(value protein.Node, construct string, shorthand bool) (loadSpec, protein.Node, error) {
	var spec loadSpec

	if shorthand && value.Kind == protein.KindString {
		walked, err := w.walk(value)
		if err != nil {
			return spec, protein.Null, err
		}

		spec.filename = walked.String

		return spec, protein.Null, nil
	}

	if err := mustMapping(value, construct); err != nil {
		return spec, protein.Null, err
	}

	filename, _, err := getString(value, ".filename", construct, true)
	if err != nil {
		return spec, protein.Null, err
	}

	spec.filename = filename

	if format, ok, ferr := getString(value, ".format", construct, false); ferr != nil {
		return spec, protein.Null, ferr
	} else if ok {
		spec.format = format
	}

	if comment, ok, cerr := getString(value, ".comment", construct, false); cerr != nil {
		return spec, protein.Null, cerr
	} else if ok {
		spec.comment = comment
	}

	if argsNode, ok := value.Get(".args"); ok {
		walkedArgs, werr := w.walk(argsNode)
		if werr != nil {
			return spec, protein.Null, werr
		}

		if walkedArgs.Kind != protein.KindMapping {
			return spec, protein.Null, fmt.Errorf("%w: %s .args must be a mapping", protein.ErrType, construct)
		}

		spec.args = make(map[string]protein.Node, len(walkedArgs.Mapping))
		for _, e := range walkedArgs.Mapping {
			spec.args[e.Key] = e.Value
		}
	}

	doNode, _ := value.Get(".do")

	return spec, doNode, nil
}

// loadHandler implements `.load` (spec §4.4): reads a file, parses it
// according to `.format`, recursively preprocesses YAML/Protein content
// with a fresh Walker sharing this one's frame stack, and splices the
// result in place of the construct.
func loadHandler(w *Walker, value protein.Node) (protein.Node, error) {
	spec, _, err := w.parseFileSpec(value, ".load", true)
	if err != nil {
		return protein.Null, err
	}

	path := resolvePath(w.BaseDir, spec.filename)

	data, err := os.ReadFile(path)
	if err != nil {
		return protein.Null, fmt.Errorf("%w: reading %q: %s", protein.ErrIO, path, err)
	}

	format := spec.format
	if format == "" {
		format = w.Emit.InferFormat(spec.filename)
	}

	if format != "yaml" && format != "" {
		return protein.Null, fmt.Errorf("%w: .load only supports YAML/Protein documents, got format %q", protein.ErrType, format)
	}

	parsed, err := nodeyaml.Decode(data)
	if err != nil {
		return protein.Null, fmt.Errorf("%w: parsing %q: %s", protein.ErrParse, path, err)
	}

	sub := &Walker{
		Stack:   w.Stack,
		Expr:    w.Expr,
		Modules: w.Modules,
		Buffers: w.Buffers,
		Emit:    w.Emit,
		SQL:     w.SQL,
		Diag:    w.Diag,
		BaseDir: filepath.Dir(path),
		File:    path,
		DryRun:  w.DryRun,
	}

	return sub.walk(parsed)
}

// exportHandler implements `.export` (spec §4.4): walks `.do`, normalizes
// the result, and serializes it to `.filename` via the format-dispatched
// Emitter collaborator.
func exportHandler(w *Walker, value protein.Node) (protein.Node, error) {
	spec, doNode, err := w.parseFileSpec(value, ".export", false)
	if err != nil {
		return protein.Null, err
	}

	result, err := w.runDo(doNode)
	if err != nil {
		return protein.Null, err
	}

	normalized := protein.Normalize(result)

	format := spec.format
	if format == "" {
		format = w.Emit.InferFormat(spec.filename)
	}

	data, err := w.Emit.Emit(format, normalized, spec.args)
	if err != nil {
		return protein.Null, fmt.Errorf("%w: emitting %q: %s", protein.ErrIO, spec.filename, err)
	}

	if spec.comment != "" {
		data = append(commentPrefix(format, spec.comment), data...)
	}

	path := resolvePath(w.BaseDir, spec.filename)

	if w.DryRun {
		w.reportDryRun("export", path, len(data))
		return protein.Null, nil
	}

	if err := writeFileCreatingDirs(path, data); err != nil {
		return protein.Null, fmt.Errorf("%w: writing %q: %s", protein.ErrIO, path, err)
	}

	return protein.Null, nil
}

// reportDryRun tells Diag what a suppressed disk write would have done,
// per spec.md SPEC_FULL §10's `--dry-run` flag ("printing what would have
// been written to the diagnostics stream").
func (w *Walker) reportDryRun(construct, path string, size int) {
	if w.Diag != nil {
		w.Diag.Println(fmt.Sprintf("[dry-run] %s would write %d bytes to %q", construct, size, path))
	}
}

func commentPrefix(format, comment string) []byte {
	switch format {
	case "python":
		return []byte("# " + comment + "\n")
	case "json":
		return nil // JSON has no comment syntax; the comment is dropped rather than producing invalid JSON.
	default:
		return []byte("# " + comment + "\n")
	}
}

func writeFileCreatingDirs(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0o644)
}

// printHandler implements `.print` (spec §4.4): evaluates the value and
// writes a line to the diagnostics stream.
func printHandler(w *Walker, value protein.Node) (protein.Node, error) {
	walked, err := w.walk(value)
	if err != nil {
		return protein.Null, err
	}

	if w.Diag != nil {
		w.Diag.Println(displayString(walked))
	}

	return protein.Null, nil
}

func displayString(n protein.Node) string {
	if n.Kind == protein.KindString {
		return n.String
	}

	return fmt.Sprintf("%v", n)
}

// exitHandler implements `.exit` (spec §4.4, §7): raises protein.Exit,
// an orderly-termination error type rather than a sentinel, default
// code 0.
func exitHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".exit"); err != nil {
		return protein.Null, err
	}

	code := 0

	if codeNode, ok := value.Get(".code"); ok {
		walked, err := w.walk(codeNode)
		if err != nil {
			return protein.Null, err
		}

		if walked.Kind != protein.KindInt {
			return protein.Null, fmt.Errorf("%w: .exit .code must be an integer", protein.ErrType)
		}

		code = int(walked.Int)
	}

	message, _, err := getString(value, ".message", ".exit", false)
	if err != nil {
		return protein.Null, err
	}

	return protein.Null, &protein.Exit{Code: code, Message: message}
}

// defSQLHandler implements `.def_sql` (spec §4.4, §6): registers an
// engine handle from a URL, and binds it in the current frame.
func defSQLHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".def_sql"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".def_sql", true)
	if err != nil {
		return protein.Null, err
	}

	url, _, err := getString(value, ".url", ".def_sql", true)
	if err != nil {
		return protein.Null, err
	}

	kwargs, err := w.sqlKwargs(value)
	if err != nil {
		return protein.Null, err
	}

	if w.SQL == nil {
		return protein.Null, fmt.Errorf("%w: no SQL registry configured", protein.ErrSQL)
	}

	engine, err := w.SQL.Register(name, url, kwargs)
	if err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrSQL, err)
	}

	w.Stack.SetTop(name, protein.Value{Kind: protein.ValueSqlEngine, SqlEngine: engine})

	return protein.Null, nil
}

func (w *Walker) sqlKwargs(value protein.Node) (map[string]protein.Node, error) {
	kwNode, ok := value.Get(".kwargs")
	if !ok {
		return nil, nil
	}

	walked, err := w.walk(kwNode)
	if err != nil {
		return nil, err
	}

	if walked.Kind != protein.KindMapping {
		return nil, fmt.Errorf("%w: .kwargs must be a mapping", protein.ErrType)
	}

	out := make(map[string]protein.Node, len(walked.Mapping))
	for _, e := range walked.Mapping {
		out[e.Key] = e.Value
	}

	return out, nil
}

func (w *Walker) resolveEngine(value protein.Node, construct string) (protein.SqlEngine, string, error) {
	name, _, err := getString(value, ".engine", construct, true)
	if err != nil {
		return nil, "", err
	}

	v, err := w.Stack.Resolve(name)
	if err != nil {
		return nil, "", err
	}

	if v.Kind != protein.ValueSqlEngine || v.SqlEngine == nil {
		return nil, "", fmt.Errorf("%w: %q is not a SQL engine", protein.ErrType, name)
	}

	stmt, _, err := getString(value, ".statement", construct, true)

	return v.SqlEngine, stmt, err
}

func (w *Walker) sqlArgs(value protein.Node) ([]protein.Node, error) {
	argsNode, ok := value.Get(".args")
	if !ok {
		return nil, nil
	}

	walked, err := w.walk(argsNode)
	if err != nil {
		return nil, err
	}

	return positionalArgs(walked)
}

// execSQLHandler implements `.exec_sql` (spec §4.4, §6): executes a
// statement against a registered engine, ignoring rows.
func execSQLHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".exec_sql"); err != nil {
		return protein.Null, err
	}

	engine, stmt, err := w.resolveEngine(value, ".exec_sql")
	if err != nil {
		return protein.Null, err
	}

	args, err := w.sqlArgs(value)
	if err != nil {
		return protein.Null, err
	}

	if err := engine.Exec(stmt, args); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrSQL, err)
	}

	return protein.Null, nil
}

// loadSQLHandler implements `.load_sql` (spec §4.4, §6): executes a
// query and returns a Sequence of row-Mappings in the column order the
// database reports.
func loadSQLHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".load_sql"); err != nil {
		return protein.Null, err
	}

	engine, stmt, err := w.resolveEngine(value, ".load_sql")
	if err != nil {
		return protein.Null, err
	}

	args, err := w.sqlArgs(value)
	if err != nil {
		return protein.Null, err
	}

	rows, err := engine.Query(stmt, args)
	if err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrSQL, err)
	}

	return protein.Seq(rows...), nil
}

// openBufferHandler implements `.open_buffer` (spec §4.5).
func openBufferHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".open_buffer"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".open_buffer", true)
	if err != nil {
		return protein.Null, err
	}

	language, _, err := getString(value, ".language", ".open_buffer", false)
	if err != nil {
		return protein.Null, err
	}

	indentWidth := 4

	if initNode, ok := value.Get(".indent"); ok {
		walked, werr := w.walk(initNode)
		if werr != nil {
			return protein.Null, werr
		}

		if walked.Kind != protein.KindInt {
			return protein.Null, fmt.Errorf("%w: .open_buffer .indent must be an integer", protein.ErrType)
		}

		indentWidth = int(walked.Int)
	}

	initText := ""

	if initNode, ok := value.Get(".init"); ok {
		walked, werr := w.walk(initNode)
		if werr != nil {
			return protein.Null, werr
		}

		initText = displayString(walked)
	}

	if w.Buffers == nil {
		return protein.Null, fmt.Errorf("%w: no buffer registry configured", protein.ErrIO)
	}

	if err := w.Buffers.Open(name, language, initText, indentWidth); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrIO, err)
	}

	return protein.Null, nil
}

// writeBufferHandler implements `.write_buffer` (spec §4.5): `.text` is
// expression-evaluated unless it is literal-flagged, then appended with
// the given indent adjustment.
func writeBufferHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".write_buffer"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".write_buffer", true)
	if err != nil {
		return protein.Null, err
	}

	text := ""

	if textNode, ok := value.Get(".text"); ok {
		walked, werr := w.walk(textNode)
		if werr != nil {
			return protein.Null, werr
		}

		text = displayString(walked)
	}

	indentDelta := 0

	if indentNode, ok := value.Get(".indent"); ok {
		walked, werr := w.walk(indentNode)
		if werr != nil {
			return protein.Null, werr
		}

		if walked.Kind != protein.KindInt {
			return protein.Null, fmt.Errorf("%w: .write_buffer .indent must be an integer", protein.ErrType)
		}

		indentDelta = int(walked.Int)
	}

	if w.Buffers == nil {
		return protein.Null, fmt.Errorf("%w: no buffer registry configured", protein.ErrIO)
	}

	if err := w.Buffers.Write(name, text, indentDelta); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrIO, err)
	}

	return protein.Null, nil
}

// saveBufferHandler implements `.save_buffer` (spec §4.5): writes the
// accumulated text to a file relative to the program source directory.
func saveBufferHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".save_buffer"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".save_buffer", true)
	if err != nil {
		return protein.Null, err
	}

	filename, _, err := getString(value, ".filename", ".save_buffer", true)
	if err != nil {
		return protein.Null, err
	}

	if w.DryRun {
		w.reportDryRun("save_buffer", resolvePath(w.BaseDir, filename), 0)
		return protein.Null, nil
	}

	if w.Buffers == nil {
		return protein.Null, fmt.Errorf("%w: no buffer registry configured", protein.ErrIO)
	}

	if err := w.Buffers.Save(name, filename, w.BaseDir); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrIO, err)
	}

	return protein.Null, nil
}

// writeHandler implements `.write` (spec §4.5): a stream-free shortcut
// that writes `.text` to `.filename` once.
func writeHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".write"); err != nil {
		return protein.Null, err
	}

	filename, _, err := getString(value, ".filename", ".write", true)
	if err != nil {
		return protein.Null, err
	}

	textNode, ok := value.Get(".text")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .write requires .text", protein.ErrArg)
	}

	walked, err := w.walk(textNode)
	if err != nil {
		return protein.Null, err
	}

	if w.DryRun {
		w.reportDryRun("write", resolvePath(w.BaseDir, filename), len(displayString(walked)))
		return protein.Null, nil
	}

	if w.Buffers == nil {
		return protein.Null, fmt.Errorf("%w: no buffer registry configured", protein.ErrIO)
	}

	if err := w.Buffers.WriteOnce(filename, displayString(walked), w.BaseDir); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrIO, err)
	}

	return protein.Null, nil
}
