package protein

import (
	"errors"
	"strconv"
)

// Sentinel errors for the Protein error taxonomy (spec §7). Code returns
// them wrapped with fmt.Errorf's %w and a context message; the walker does
// not attach source positions (SourceError, AtLine and AtPos are available
// for that but are not applied). The sentinels themselves are what callers
// compare against with errors.Is.
var (
	// ErrParse indicates the underlying YAML document could not be parsed.
	ErrParse = errors.New("invalid YAML input")
	// ErrDupKey indicates a duplicate mapping key, whether from the source
	// document or from a collapse/merge that produced a second occurrence.
	ErrDupKey = errors.New("duplicate mapping key")
	// ErrUnknownConstruct indicates a dotted key the dispatcher does not
	// recognize and no loaded module exports under that name.
	ErrUnknownConstruct = errors.New("unknown construct")
	// ErrUndefined indicates a name was not found in any frame.
	ErrUndefined = errors.New("undefined name")
	// ErrExpr indicates the template-expression engine failed to evaluate
	// an expression.
	ErrExpr = errors.New("expression evaluation failed")
	// ErrType indicates a value had the wrong kind for its context.
	ErrType = errors.New("wrong value type")
	// ErrArg indicates an argument-binding mismatch: wrong count, wrong
	// name, or mixed positional/named arguments.
	ErrArg = errors.New("argument mismatch")
	// ErrIO indicates a file operation failed (.load, .export, .write,
	// .save_buffer, or module loading).
	ErrIO = errors.New("I/O failure")
	// ErrSQL indicates a SQL engine registration, statement, or query
	// failed.
	ErrSQL = errors.New("SQL engine failure")
)

// SourceError wraps a sentinel error with the source line (and, where
// known, column) at which it occurred, per spec §7 ("every error carries a
// source line number where available").
type SourceError struct {
	Err    error
	File   string
	Line   int
	Column int
}

func (e *SourceError) Error() string {
	if e.File == "" && e.Line == 0 {
		return e.Err.Error()
	}

	if e.Column > 0 {
		return formatPos(e.File, e.Line, e.Column) + ": " + e.Err.Error()
	}

	return formatPos(e.File, e.Line, 0) + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func formatPos(file string, line, column int) string {
	switch {
	case file != "" && column > 0:
		return file + ":" + strconv.Itoa(line) + ":" + strconv.Itoa(column)
	case file != "":
		return file + ":" + strconv.Itoa(line)
	case column > 0:
		return strconv.Itoa(line) + ":" + strconv.Itoa(column)
	default:
		return strconv.Itoa(line)
	}
}

// AtLine wraps err with file/line position information. A nil err returns
// nil, so call sites can write `return protein.AtLine(file, line, err)`
// unconditionally.
func AtLine(file string, line int, err error) error {
	if err == nil {
		return nil
	}

	return &SourceError{Err: err, File: file, Line: line}
}

// AtPos is AtLine with an additional column.
func AtPos(file string, line, column int, err error) error {
	if err == nil {
		return nil
	}

	return &SourceError{Err: err, File: file, Line: line, Column: column}
}

// Exit is raised by the .exit construct (spec §4.4) and unwinds the walker
// cleanly, discarding any open buffers. Unlike the sentinel errors above it
// carries a payload and is never wrapped with %w; the CLI entry point
// type-asserts for it specifically.
type Exit struct {
	Code    int
	Message string
}

func (e *Exit) Error() string {
	if e.Message == "" {
		return "exit"
	}

	return e.Message
}
