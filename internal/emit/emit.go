// Package emit implements the format-dispatched serializer half of the
// buffer & export subsystem (spec §4.5, §6 "File formats (emit)"):
// yaml/json/toml/python, selected either explicitly via `.format` or by
// extension inference.
package emit

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/nodeyaml"
)

// Emitter dispatches Emit calls by format name and resolves the default
// argument table from Config (spec §6, §7 "Ambient Stack").
type Emitter struct {
	Config *protein.Config
}

// New builds an Emitter against cfg (never nil; callers without a
// loaded `protein.yaml` pass protein's zero-value defaults).
func New(cfg *protein.Config) *Emitter {
	if cfg == nil {
		cfg = &protein.Config{}
	}

	return &Emitter{Config: cfg}
}

// InferFormat maps a filename extension to a format name per spec §6:
// ".yaml|.yml -> yaml, .json -> json, .toml -> toml"; anything else
// (including no extension) defaults to yaml, the format the interpreter
// itself is built around.
func (e *Emitter) InferFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Emit serializes n in the named format, honoring per-call args that
// override the Config-level defaults (spec §6's emitter argument
// tables).
func (e *Emitter) Emit(format string, n protein.Node, args map[string]protein.Node) ([]byte, error) {
	switch format {
	case "yaml", "":
		return e.emitYAML(n, args)
	case "json":
		return e.emitJSON(n, args)
	case "toml":
		return e.emitTOML(n)
	case "python":
		return e.emitPython(n)
	default:
		return nil, fmt.Errorf("%w: unknown emit format %q", protein.ErrType, format)
	}
}

func intArg(args map[string]protein.Node, key string, fallback int) int {
	if v, ok := args[key]; ok && v.Kind == protein.KindInt {
		return int(v.Int)
	}

	return fallback
}

func boolArg(args map[string]protein.Node, key string, fallback bool) bool {
	if v, ok := args[key]; ok && v.Kind == protein.KindBool {
		return v.Bool
	}

	return fallback
}

// emitYAML implements the "round-trip-preserving emitter" of spec §6,
// backed by nodeyaml (itself backed by github.com/goccy/go-yaml, a
// teacher dependency).
func (e *Emitter) emitYAML(n protein.Node, args map[string]protein.Node) ([]byte, error) {
	defaults := e.Config.Emit.YAML
	indent := intArg(args, "indent", defaults.Indent)
	offset := intArg(args, "offset", defaults.Offset)
	width := intArg(args, "width", defaults.Width)
	explicitStart := boolArg(args, "explicit_start", defaults.ExplicitStart)

	return nodeyaml.Encode(n, indent, offset, width, explicitStart)
}

// emitJSON implements spec §6's "standard serializer" for json — the
// spec's own wording justifies encoding/json over a third-party encoder
// (see DESIGN.md).
func (e *Emitter) emitJSON(n protein.Node, args map[string]protein.Node) ([]byte, error) {
	defaults := e.Config.Emit.JSON
	indent := intArg(args, "indent", defaults.Indent)
	sortKeys := boolArg(args, "sort_keys", defaults.SortKeys)

	indentStr := ""
	if indent > 0 {
		indentStr = strings.Repeat(" ", indent)
	}

	var buf bytes.Buffer

	if err := writeJSONNode(&buf, n, sortKeys, indentStr, 0); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// emitTOML implements spec §6's toml serializer; n must normalize to a
// Mapping at the top level, since TOML has no bare-scalar/bare-sequence
// document form.
func (e *Emitter) emitTOML(n protein.Node) ([]byte, error) {
	if n.Kind != protein.KindMapping {
		return nil, fmt.Errorf("%w: toml output requires a mapping at the document root, got %s", protein.ErrType, n.Kind)
	}

	return toml.Marshal(nodeToJSONValue(n, false))
}
