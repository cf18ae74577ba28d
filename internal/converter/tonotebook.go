package converter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/markup"
	"github.com/noah-isme/gema-nbif/internal/notebook"
)

// ErrMarkupNotFound is returned when a page directory has no markup file.
var ErrMarkupNotFound = errors.New("markup source not found")

// BridgeImportPath is the package imported by generated notebooks.
const BridgeImportPath = "github.com/noah-isme/gema-nbif/pkg/nbbridge"

const displayImportPath = "github.com/janpfeifer/gonb/gonbui"

// GeneratedCellMarker starts every code cell written by NotebookBuilder.
const GeneratedCellMarker = "// nbif:generated"

// NotebookOptions configures markup to notebook conversion. Host and Course
// fall back to the page front matter.
type NotebookOptions struct {
	Host   string `validate:"required"`
	Course string `validate:"required"`
	Title  string
	// Output overrides <page_dir>/<page>.ipynb.
	Output string
}

// NotebookBuilder turns a markup page into a notebook whose questions are
// shown through the bridge.
type NotebookBuilder struct {
	opts     NotebookOptions
	validate *validator.Validate
	logger   zerolog.Logger
	newID    func() string
}

// NewNotebookBuilder builds a converter; validate may be nil.
func NewNotebookBuilder(opts NotebookOptions, validate *validator.Validate, logger zerolog.Logger) *NotebookBuilder {
	if validate == nil {
		validate = validator.New()
	}
	return &NotebookBuilder{
		opts:     opts,
		validate: validate,
		logger:   logger.With().Str("component", "notebook_builder").Logger(),
		newID:    uuid.NewString,
	}
}

// ConvertPage reads <pageDir>/content.md and writes the notebook. It returns
// the output path.
func (b *NotebookBuilder) ConvertPage(pageDir string) (string, error) {
	abs, err := filepath.Abs(pageDir)
	if err != nil {
		return "", fmt.Errorf("resolve page dir: %w", err)
	}
	page := filepath.Base(abs)
	source := filepath.Join(abs, DefaultPageFile)

	data, err := os.ReadFile(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMarkupNotFound, source)
		}
		return "", fmt.Errorf("read %s: %w", source, err)
	}

	nb, err := b.Build(page, string(data))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", source, err)
	}

	out := b.opts.Output
	if out == "" {
		out = filepath.Join(abs, page+".ipynb")
	}
	if err := notebook.WriteFile(out, nb); err != nil {
		return "", err
	}

	b.logger.Info().Str("page", page).Str("output", out).Int("cells", len(nb.Cells)).Msg("notebook written")
	return out, nil
}

// Build converts markup source for page into a notebook.
func (b *NotebookBuilder) Build(page, src string) (*notebook.Notebook, error) {
	meta, body, err := markup.SplitFrontMatter(src)
	if err != nil {
		return nil, err
	}
	opts := b.opts
	if opts.Host == "" {
		opts.Host = meta.Host
	}
	if opts.Course == "" {
		opts.Course = meta.Course
	}
	if opts.Title == "" {
		opts.Title = meta.Title
	}
	if err := b.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("notebook options: %w", err)
	}

	staticBase := fmt.Sprintf("https://%s/%s/%s/%s/", opts.Host, opts.Course, page, StaticDirName)
	w := &cellWriter{builder: b, opts: opts}

	for _, block := range markup.Parse(body) {
		switch block.Kind {
		case markup.BlockText:
			w.pending.WriteString(strings.ReplaceAll(block.Text, CurrentPrefix, staticBase))
		case markup.BlockHeading:
			w.flush()
			w.markdown(markup.MarkdownHeading(block.Level, strings.TrimSpace(block.Text)))
		case markup.BlockQuestion:
			w.flush()
			w.inject()
			b.logger.Debug().Str("page", page).Str("question", block.Question.Name).Msg("question cell")
			w.code(fmt.Sprintf("%%%%\ngonbui.DisplayHTML(CIF.ShowQuestion(%q, %q))", page, block.Question.Name))
		}
	}
	w.flush()

	metadata := map[string]any{
		"kernelspec": map[string]any{
			"display_name": "Go (gonb)",
			"language":     "go",
			"name":         "gonb",
		},
		"language_info": map[string]any{
			"name": "go",
		},
	}
	if opts.Title != "" {
		metadata["title"] = opts.Title
	}

	return &notebook.Notebook{
		NBFormat:      4,
		NBFormatMinor: 5,
		Metadata:      metadata,
		Cells:         w.cells,
	}, nil
}

type cellWriter struct {
	builder  *NotebookBuilder
	opts     NotebookOptions
	cells    []notebook.Cell
	pending  strings.Builder
	injected bool
}

// flush emits buffered text as a markdown cell unless it is blank.
func (w *cellWriter) flush() {
	text := w.pending.String()
	w.pending.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	w.markdown(strings.TrimRight(strings.TrimLeft(text, "\n"), " \t\n"))
}

func (w *cellWriter) markdown(source string) {
	w.cells = append(w.cells, notebook.Cell{
		ID:       w.builder.newID(),
		CellType: notebook.CellMarkdown,
		Metadata: map[string]any{},
		Source:   notebook.MultilineString(source),
	})
	w.inject()
}

func (w *cellWriter) code(source string) {
	w.cells = append(w.cells, notebook.Cell{
		ID:       w.builder.newID(),
		CellType: notebook.CellCode,
		Metadata: map[string]any{},
		Source:   notebook.MultilineString(GeneratedCellMarker + "\n" + source),
	})
}

// inject adds the setup and auth cells once.
func (w *cellWriter) inject() {
	if w.injected {
		return
	}
	w.injected = true
	w.code(fmt.Sprintf("import (\n\t%q\n\t%q\n)", displayImportPath, BridgeImportPath))
	w.code(fmt.Sprintf(
		"var CIF = nbbridge.New(nbbridge.Options{Host: %q, Course: %q, StatePath: nbbridge.DefaultStatePath()})\n\n%%%%\ngonbui.DisplayHTML(CIF.DoAuth())",
		w.opts.Host, w.opts.Course,
	))
}
