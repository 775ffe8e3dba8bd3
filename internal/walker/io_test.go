package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/buffer"
	"github.com/fralau/protein/internal/emit"
	"github.com/fralau/protein/internal/exprshim"
	"github.com/fralau/protein/internal/frame"
)

type collectingDiag struct {
	lines []string
}

func (d *collectingDiag) Println(line string) { d.lines = append(d.lines, line) }

func newIOWalker(t *testing.T, diag *collectingDiag) *Walker {
	t.Helper()

	return &Walker{
		Stack:   frame.NewStack(nil),
		Expr:    exprshim.NewEngine(),
		Buffers: buffer.NewRegistry(),
		Emit:    emit.New(nil),
		Diag:    diag,
		BaseDir: t.TempDir(),
	}
}

func TestExportWritesNormalizedYAML(t *testing.T) {
	w := newIOWalker(t, nil)

	doc := protein.Map(
		protein.Entry{Key: ".export", Value: protein.Map(
			protein.Entry{Key: ".filename", Value: protein.String("out.yaml")},
			protein.Entry{Key: ".do", Value: protein.Map(
				protein.Entry{Key: "a", Value: protein.Int(1)},
			)},
		)},
	)

	out, err := w.Render(doc)
	assert.NoError(t, err)
	assert.True(t, out.IsNull())

	data, rerr := os.ReadFile(filepath.Join(w.BaseDir, "out.yaml"))
	assert.NoError(t, rerr)
	assert.Contains(t, string(data), "a: 1")
}

func TestExportRejectsJSONCommentAsPrefix(t *testing.T) {
	w := newIOWalker(t, nil)

	doc := protein.Map(
		protein.Entry{Key: ".export", Value: protein.Map(
			protein.Entry{Key: ".filename", Value: protein.String("out.json")},
			protein.Entry{Key: ".comment", Value: protein.String("generated")},
			protein.Entry{Key: ".do", Value: protein.Map(
				protein.Entry{Key: "a", Value: protein.Int(1)},
			)},
		)},
	)

	_, err := w.Render(doc)
	assert.NoError(t, err)

	data, rerr := os.ReadFile(filepath.Join(w.BaseDir, "out.json"))
	assert.NoError(t, rerr)
	assert.Equal(t, byte('{'), data[0])
}

func TestLoadSplicesSubdocument(t *testing.T) {
	w := newIOWalker(t, nil)

	sub := filepath.Join(w.BaseDir, "sub.yaml")
	assert.NoError(t, os.WriteFile(sub, []byte("x: 1\ny: 2\n"), 0o644))

	doc := protein.Map(
		protein.Entry{Key: "loaded", Value: protein.Map(
			protein.Entry{Key: ".load", Value: protein.String("sub.yaml")},
		)},
	)

	out, err := w.Render(doc)
	assert.NoError(t, err)

	loaded, ok := out.Get("loaded")
	assert.True(t, ok)

	x, ok := loaded.Get("x")
	assert.True(t, ok)
	assert.Equal(t, int64(1), x.Int)
}

func TestPrintWritesToDiagnostics(t *testing.T) {
	diag := &collectingDiag{}
	w := newIOWalker(t, diag)

	doc := protein.Map(
		protein.Entry{Key: ".print", Value: protein.String("hello")},
	)

	_, err := w.Render(doc)
	assert.NoError(t, err)
	assert.Equal(t, []string{"hello"}, diag.lines)
}

func TestExitRaisesWithCodeAndMessage(t *testing.T) {
	w := newIOWalker(t, nil)

	doc := protein.Map(
		protein.Entry{Key: ".exit", Value: protein.Map(
			protein.Entry{Key: ".code", Value: protein.Int(3)},
			protein.Entry{Key: ".message", Value: protein.String("bye")},
		)},
	)

	_, err := w.Render(doc)
	assert.Error(t, err)

	exit, ok := err.(*protein.Exit)
	assert.True(t, ok)
	assert.Equal(t, 3, exit.Code)
	assert.Equal(t, "bye", exit.Message)
}

func TestDryRunSuppressesExportSideEffect(t *testing.T) {
	diag := &collectingDiag{}
	w := newIOWalker(t, diag)
	w.DryRun = true

	doc := protein.Map(
		protein.Entry{Key: ".export", Value: protein.Map(
			protein.Entry{Key: ".filename", Value: protein.String("out.yaml")},
			protein.Entry{Key: ".do", Value: protein.Map(
				protein.Entry{Key: "a", Value: protein.Int(1)},
			)},
		)},
	)

	_, err := w.Render(doc)
	assert.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(w.BaseDir, "out.yaml"))
	assert.Error(t, statErr)
	assert.Equal(t, 1, len(diag.lines))
}

func TestBufferOpenWriteSaveRoundTrip(t *testing.T) {
	w := newIOWalker(t, nil)

	doc := protein.Seq(
		protein.Map(protein.Entry{Key: ".open_buffer", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("b")},
			protein.Entry{Key: ".indent", Value: protein.Int(2)},
		)}),
		protein.Map(protein.Entry{Key: ".write_buffer", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("b")},
			protein.Entry{Key: ".text", Value: protein.String("line")},
			protein.Entry{Key: ".indent", Value: protein.Int(1)},
		)}),
		protein.Map(protein.Entry{Key: ".save_buffer", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("b")},
			protein.Entry{Key: ".filename", Value: protein.String("buf.txt")},
		)}),
	)

	_, err := w.Render(doc)
	assert.NoError(t, err)

	data, rerr := os.ReadFile(filepath.Join(w.BaseDir, "buf.txt"))
	assert.NoError(t, rerr)
	assert.Equal(t, "  line\n", string(data))
}

func TestWriteShortcutWritesFileOnce(t *testing.T) {
	w := newIOWalker(t, nil)

	doc := protein.Map(
		protein.Entry{Key: ".write", Value: protein.Map(
			protein.Entry{Key: ".filename", Value: protein.String("shortcut.txt")},
			protein.Entry{Key: ".text", Value: protein.String("hi")},
		)},
	)

	_, err := w.Render(doc)
	assert.NoError(t, err)

	data, rerr := os.ReadFile(filepath.Join(w.BaseDir, "shortcut.txt"))
	assert.NoError(t, rerr)
	assert.Equal(t, "hi", string(data))
}
