package converter

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/markup"
	"github.com/noah-isme/gema-nbif/internal/notebook"
)

// Code-cell prefixes that are never exported to the page.
const (
	setupCellPrefix  = "# run this once at startup"
	ignoreCellPrefix = "# catsoop-ignore"
	selfTestCall     = "ret = pythoncode_test(_i)"
	colabBadgeCellID = "view-in-github"
)

// IgnoreFileName opts a unit directory out of ConvertAll.
const IgnoreFileName = ".ipynb2catsoop.ignore"

// DefaultPageFile is the markup file of a unit holding a single notebook.
const DefaultPageFile = "content.md"

// MarkupOptions configures notebook to markup conversion.
type MarkupOptions struct {
	// CourseDir is the course content root.
	CourseDir string `validate:"required"`
	// UnitName is the unit directory below CourseDir used by Convert.
	UnitName string
	// Force converts even when the markup output is newer than the notebook.
	Force bool
	// PlainHeadings keeps single-line markdown headings as markdown instead
	// of emitting section tags.
	PlainHeadings bool
	// RawHTMLOutputs copies text/html outputs without sanitising them.
	RawHTMLOutputs bool
}

// MarkupResult summarises one converted notebook.
type MarkupResult struct {
	Notebook string
	Output   string
	Cells    int
	Problems int
	Skipped  int
	Assets   []string
}

// MarkupConverter turns notebooks into courseware markup pages.
type MarkupConverter struct {
	opts      MarkupOptions
	logger    zerolog.Logger
	sanitizer *bluemonday.Policy
}

type unit struct {
	name      string
	dir       string
	staticDir string
	assets    []string
}

// NewMarkupConverter builds a converter rooted at opts.CourseDir.
func NewMarkupConverter(opts MarkupOptions, logger zerolog.Logger) (*MarkupConverter, error) {
	if strings.TrimSpace(opts.CourseDir) == "" {
		opts.CourseDir = "."
	}
	abs, err := filepath.Abs(opts.CourseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve course dir: %w", err)
	}
	opts.CourseDir = abs
	if opts.UnitName == "" {
		opts.UnitName = "."
	}

	return &MarkupConverter{
		opts:      opts,
		logger:    logger.With().Str("component", "markup_converter").Logger(),
		sanitizer: bluemonday.UGCPolicy(),
	}, nil
}

func (c *MarkupConverter) newUnit(name string) *unit {
	dir := filepath.Join(c.opts.CourseDir, filepath.FromSlash(name))
	return &unit{
		name:      name,
		dir:       dir,
		staticDir: filepath.Join(dir, StaticDirName),
	}
}

// ConvertAll converts every unit directory below root. root becomes the
// course directory. Failures are collected and conversion continues with
// the next notebook.
func (c *MarkupConverter) ConvertAll(root string) ([]MarkupResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve course dir: %w", err)
	}
	c.opts.CourseDir = abs
	c.logger.Info().Str("course_dir", abs).Msg("converting all notebooks")

	var (
		results []MarkupResult
		errs    []error
	)
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == abs {
			return nil
		}
		name := d.Name()
		if name == StaticDirName || strings.HasPrefix(name, ".") || name == "__pycache__" {
			return fs.SkipDir
		}
		if _, statErr := os.Stat(filepath.Join(path, IgnoreFileName)); statErr == nil {
			c.logger.Debug().Str("unit", path).Msg("unit ignored")
			return fs.SkipDir
		}

		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			return relErr
		}
		unitResults, unitErr := c.ConvertUnit(filepath.ToSlash(rel))
		results = append(results, unitResults...)
		if unitErr != nil {
			errs = append(errs, unitErr)
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return results, errors.Join(errs...)
}

// ConvertUnit converts the notebooks of one unit directory. A single
// notebook becomes content.md; several become <notebook>.md each.
func (c *MarkupConverter) ConvertUnit(unitName string) ([]MarkupResult, error) {
	u := c.newUnit(unitName)
	if _, err := os.Stat(filepath.Join(u.dir, IgnoreFileName)); err == nil {
		return nil, nil
	}

	notebooks, err := filepath.Glob(filepath.Join(u.dir, "*.ipynb"))
	if err != nil {
		return nil, err
	}
	sort.Strings(notebooks)

	targets := make(map[string]string, len(notebooks))
	switch len(notebooks) {
	case 0:
		return nil, nil
	case 1:
		targets[notebooks[0]] = filepath.Join(u.dir, DefaultPageFile)
	default:
		for _, nb := range notebooks {
			targets[nb] = strings.TrimSuffix(nb, ".ipynb") + ".md"
		}
	}

	var (
		results []MarkupResult
		errs    []error
	)
	for _, nb := range notebooks {
		out := targets[nb]
		if !c.opts.Force && upToDate(nb, out) {
			c.logger.Debug().Str("notebook", nb).Str("output", out).Msg("skipping; output already up to date")
			continue
		}
		result, err := c.convert(c.newUnit(unitName), nb, out)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func upToDate(src, out string) bool {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	outInfo, err := os.Stat(out)
	if err != nil {
		return false
	}
	return srcInfo.ModTime().Before(outInfo.ModTime())
}

// Convert converts one notebook using the configured unit. An empty out
// writes <course>/<unit>/content.md.
func (c *MarkupConverter) Convert(notebookPath, out string) (MarkupResult, error) {
	u := c.newUnit(c.opts.UnitName)
	if out == "" {
		out = filepath.Join(u.dir, DefaultPageFile)
	}
	return c.convert(u, notebookPath, out)
}

func (c *MarkupConverter) convert(u *unit, notebookPath, out string) (MarkupResult, error) {
	c.logger.Info().Str("notebook", notebookPath).Str("output", out).Msg("converting notebook")

	nb, err := notebook.ReadFile(notebookPath)
	if err != nil {
		return MarkupResult{}, err
	}

	text, result, err := c.render(u, nb)
	if err != nil {
		return MarkupResult{}, fmt.Errorf("convert %s: %w", notebookPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return MarkupResult{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return MarkupResult{}, fmt.Errorf("write %s: %w", out, err)
	}

	result.Notebook = notebookPath
	result.Output = out
	return result, nil
}

// render produces the markup text for nb. Assets are written as a side
// effect into the unit's static directory.
func (c *MarkupConverter) render(u *unit, nb *notebook.Notebook) (string, MarkupResult, error) {
	var (
		buf    bytes.Buffer
		result MarkupResult
	)

	for idx, cell := range nb.Cells {
		source := cell.Source.String()
		c.logger.Debug().Int("cell", idx+1).Str("type", cell.CellType).Msg(truncate(source, 100))

		switch cell.CellType {
		case notebook.CellMarkdown:
			if cell.MetadataString("id") == colabBadgeCellID {
				result.Skipped++
				continue
			}
			buf.WriteString(c.markdownCell(u, source))
			buf.WriteString("\n\n")

		case notebook.CellCode:
			switch {
			case strings.HasPrefix(source, setupCellPrefix),
				strings.HasPrefix(source, GeneratedCellMarker),
				strings.HasPrefix(source, ignoreCellPrefix),
				strings.Contains(source, selfTestCall):
				result.Skipped++
				continue
			case strings.HasPrefix(source, markup.ProblemSentinel):
				block, err := markup.RenderProblem(source)
				if err != nil {
					return "", MarkupResult{}, fmt.Errorf("cell %d: %w", idx+1, err)
				}
				buf.WriteString(block)
				result.Problems++
				result.Cells++
				continue
			}

			fmt.Fprintf(&buf, "<pre>%s</pre>\n\n", source)
			if err := c.writeOutputs(&buf, u, idx, cell.Outputs); err != nil {
				return "", MarkupResult{}, fmt.Errorf("cell %d: %w", idx+1, err)
			}

		default:
			result.Skipped++
			continue
		}
		result.Cells++
	}

	result.Assets = u.assets
	return buf.String(), result, nil
}

func (c *MarkupConverter) markdownCell(u *unit, source string) string {
	if !c.opts.PlainHeadings {
		if level, title, ok := markup.ParseMarkdownHeading(source); ok {
			return markup.HeadingTag(level, title)
		}
	}
	return c.rewriteImages(u, source)
}

func (c *MarkupConverter) writeOutputs(buf *bytes.Buffer, u *unit, cellIdx int, outputs []notebook.Output) error {
	for _, out := range outputs {
		switch out.OutputType {
		case notebook.OutputExecuteResult:
			continue
		case notebook.OutputStream:
			if text := out.Text.String(); text != "" {
				fmt.Fprintf(buf, "<pre>%s</pre>\n\n", html.EscapeString(text))
			}
		case notebook.OutputDisplayData:
			for dataIdx, entry := range out.Data {
				if err := c.writeDisplayEntry(buf, u, cellIdx, dataIdx, entry); err != nil {
					return err
				}
			}
		default:
			c.logger.Warn().Int("cell", cellIdx+1).Str("output_type", out.OutputType).Msg("unsupported output type; skipping")
		}
	}
	return nil
}

func (c *MarkupConverter) writeDisplayEntry(buf *bytes.Buffer, u *unit, cellIdx, dataIdx int, entry notebook.MimeEntry) error {
	switch {
	case strings.HasPrefix(entry.MimeType, "text/"):
		value := entry.Value
		switch entry.MimeType {
		case "text/html":
			if !c.opts.RawHTMLOutputs {
				value = c.sanitizer.Sanitize(value)
			}
		case "text/plain":
			value = html.EscapeString(value)
		}
		fmt.Fprintf(buf, "<p>%s</p>\n\n", value)

	case strings.HasPrefix(entry.MimeType, "image/"):
		data, ok := c.decodeImage(cellIdx, entry)
		if !ok {
			return nil
		}
		name := fmt.Sprintf("cell_%d_display_data_%02d.%s", cellIdx+1, dataIdx+1, c.imageExtension(entry.MimeType, data))
		if err := c.writeAsset(u, name, data); err != nil {
			return err
		}
		fmt.Fprintf(buf, "<img src=\"%s%s\" alt=\"%s\"/>\n\n", CurrentPrefix, name, name)

	default:
		c.logger.Warn().Int("cell", cellIdx+1).Str("content_type", entry.MimeType).Msg("unknown content type; skipping")
	}
	return nil
}

func (c *MarkupConverter) decodeImage(cellIdx int, entry notebook.MimeEntry) ([]byte, bool) {
	if entry.MimeType == "image/svg+xml" {
		return []byte(entry.Value), true
	}
	payload := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, entry.Value)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn().Err(err).Int("cell", cellIdx+1).Str("content_type", entry.MimeType).Msg("undecodable image output; skipping")
		return nil, false
	}
	return data, true
}

// imageExtension names image outputs after the declared MIME subtype. The
// payload is sniffed only to flag outputs whose content disagrees.
func (c *MarkupConverter) imageExtension(mimeType string, data []byte) string {
	subtype := mimeType[strings.LastIndex(mimeType, "/")+1:]
	if idx := strings.IndexAny(subtype, "+;"); idx > 0 {
		subtype = subtype[:idx]
	}
	if detected := mimetype.Detect(data); !detected.Is(mimeType) && !strings.HasPrefix(mimeType, "image/svg") {
		c.logger.Warn().Str("content_type", mimeType).Str("detected", detected.String()).Msg("image output does not match its declared type")
	}
	return subtype
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
