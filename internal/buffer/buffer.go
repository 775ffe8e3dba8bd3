// Package buffer implements the named text-buffer registry of spec §4.5:
// `.open_buffer` creates an entry, `.write_buffer` appends
// indentation-adjusted text to it, `.save_buffer` flushes it to disk, and
// `.write` is a stream-free one-shot shortcut. Grounded on the teacher's
// langs/pygen.indentString (per-line indent helper) and
// langs/gogen/query_execution.go's writer-builder idiom (accumulate into
// a strings.Builder, flush once at the end), generalized from "one
// generated file's body" to "any number of independently named streams".
package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultIndentWidth = 4

type stream struct {
	language    string
	indentWidth int
	// baseIndent is the Buffer data model's base_indent (spec §3): the
	// indentation unit every `.write_buffer .indent` shifts are relative
	// to. Nothing in spec §4.4/§4.5 exposes a construct that sets it, so
	// it is always 0 in practice; it is still honored in the indent
	// arithmetic below so a future `.open_buffer .base_indent` (or a
	// nested-buffer construct) has a field to bind to without touching
	// the indentation formula itself (see DESIGN.md).
	baseIndent int
	builder    strings.Builder
}

// Registry is the process-wide buffer registry a Walker shares across
// every `.load` it recurses into (spec §4.5: "the buffer registry is
// shared across the whole program"). Protein's evaluator is strictly
// single-threaded (spec §8), but Registry serializes access anyway since
// nothing in its contract forbids a host embedding it from another
// goroutine.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// NewRegistry returns an empty buffer registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*stream)}
}

// Open implements `.open_buffer { .name, .language?, .init?, .indent? }`:
// indentWidth <= 0 falls back to the spec's documented default of 4.
func (r *Registry) Open(name, language, initText string, indentWidth int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[name]; exists {
		return fmt.Errorf("buffer %q already open", name)
	}

	if indentWidth <= 0 {
		indentWidth = defaultIndentWidth
	}

	s := &stream{language: language, indentWidth: indentWidth}
	if initText != "" {
		s.builder.WriteString(initText)

		if !strings.HasSuffix(initText, "\n") {
			s.builder.WriteByte('\n')
		}
	}

	r.streams[name] = s

	return nil
}

// Write implements `.write_buffer { .name, .text?, .indent? }`: per spec
// §4.5's indentation contract, text's common leading whitespace is
// stripped first, then each line is prefixed with
// `(base_indent + indentDelta) * indent_width` spaces before the whole
// chunk is appended newline-terminated.
func (r *Registry) Write(name, text string, indentDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[name]
	if !ok {
		return fmt.Errorf("buffer %q is not open", name)
	}

	spaces := (s.baseIndent + indentDelta) * s.indentWidth

	s.builder.WriteString(indentText(text, spaces))
	s.builder.WriteByte('\n')

	return nil
}

// Save implements `.save_buffer { .name, .filename }`: writes the
// accumulated text to filename resolved against baseDir, creating
// intermediate directories, then discards the buffer (spec §4.5: "live
// from .open_buffer until explicit .save_buffer or end of program").
func (r *Registry) Save(name, filename, baseDir string) error {
	r.mu.Lock()
	s, ok := r.streams[name]
	if ok {
		delete(r.streams, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("buffer %q is not open", name)
	}

	return writeFileCreatingDirs(resolvePath(baseDir, filename), []byte(s.builder.String()))
}

// WriteOnce implements `.write { .filename, .text }`: a stream-free
// shortcut that writes text to filename without going through the named
// buffer registry at all.
func (r *Registry) WriteOnce(filename, text, baseDir string) error {
	return writeFileCreatingDirs(resolvePath(baseDir, filename), []byte(text))
}

func resolvePath(baseDir, filename string) string {
	if filepath.IsAbs(filename) || baseDir == "" {
		return filename
	}

	return filepath.Join(baseDir, filename)
}

func writeFileCreatingDirs(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0o644)
}

// indentText implements spec §4.5's indentation contract: "the common
// leading whitespace is stripped, then each line is prefixed with
// (base_indent + .indent) * indent_width spaces." spaces is that already-
// computed column; negative values (an .indent below -base_indent) clamp
// to 0 rather than pushing text further left than its stripped margin.
// Grounded on langs/pygen/template_helpers.go's indentString, generalized
// from a single per-line shift to a dedent-then-reindent pass so a
// pre-indented multi-line `.text` (e.g. from a YAML block scalar) is
// normalized before realignment instead of double-indented.
func indentText(text string, spaces int) string {
	if spaces < 0 {
		spaces = 0
	}

	lines := strings.Split(text, "\n")
	common := commonLeadingWhitespace(lines)
	pad := strings.Repeat(" ", spaces)

	var out strings.Builder

	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}

		if line == "" {
			continue
		}

		out.WriteString(pad)
		out.WriteString(strings.TrimPrefix(line, common))
	}

	return out.String()
}

// commonLeadingWhitespace returns the longest run of leading spaces
// shared by every non-blank line, the prefix indentText strips before
// reindenting. Blank lines (including the text's own line breaks) are
// ignored since they carry no indentation to normalize against.
func commonLeadingWhitespace(lines []string) string {
	var common string

	first := true

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		leading := line[:len(line)-len(strings.TrimLeft(line, " "))]

		if first {
			common = leading
			first = false

			continue
		}

		common = commonPrefixOf(common, leading)
	}

	return common
}

// commonPrefixOf returns the longest shared prefix of a and b.
func commonPrefixOf(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	return a[:i]
}
