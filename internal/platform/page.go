package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noah-isme/gema-nbif/internal/markup"
)

// ErrPageNotFound is returned when a course page has no markup file.
var ErrPageNotFound = errors.New("page not found")

// ErrInvalidPath is returned for course or page names escaping the root.
var ErrInvalidPath = errors.New("invalid page path")

// PageFile is the markup file inside a page directory.
const PageFile = "content.md"

// ElementKind distinguishes page elements.
type ElementKind int

const (
	ElementText ElementKind = iota
	ElementHeading
	ElementQuestion
	// ElementHTML is emitted verbatim.
	ElementHTML
)

// Element is one renderable piece of a page.
type Element struct {
	Kind     ElementKind
	Text     string
	Level    int
	Question *markup.Question
}

// Page is a loaded markup page.
type Page struct {
	Course   string
	Name     string
	Title    string
	Elements []Element
	ModTime  time.Time
}

// QuestionNames lists question names in page order.
func (p *Page) QuestionNames() []string {
	names := []string{}
	for _, el := range p.Elements {
		if el.Kind == ElementQuestion {
			names = append(names, el.Question.Name)
		}
	}
	return names
}

// FindQuestion returns the first question element with the given name.
func (p *Page) FindQuestion(name string) (Element, bool) {
	for _, el := range p.Elements {
		if el.Kind == ElementQuestion && el.Question.Name == name {
			return el, true
		}
	}
	return Element{}, false
}

// PageLoader loads course pages.
type PageLoader interface {
	Load(ctx context.Context, course, page string) (*Page, error)
}

// FSLoader reads pages from <Root>/<course>/<page>/content.md.
type FSLoader struct {
	Root string
}

// NewFSLoader constructs a filesystem page loader.
func NewFSLoader(root string) *FSLoader {
	return &FSLoader{Root: root}
}

// Dir returns the directory of a course page after validating the names.
func (l *FSLoader) Dir(course, page string) (string, error) {
	for _, part := range []string{course, page} {
		if part == "" || !filepath.IsLocal(filepath.FromSlash(part)) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, part)
		}
	}
	return filepath.Join(l.Root, filepath.FromSlash(course), filepath.FromSlash(page)), nil
}

func (l *FSLoader) Load(ctx context.Context, course, page string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := l.Dir(course, page)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, PageFile)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrPageNotFound, course, page)
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	meta, body, err := markup.SplitFrontMatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", course, page, err)
	}

	p := &Page{Course: course, Name: page, Title: meta.Title, ModTime: info.ModTime()}
	for _, block := range markup.Parse(body) {
		switch block.Kind {
		case markup.BlockText:
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			p.Elements = append(p.Elements, Element{Kind: ElementText, Text: block.Text})
		case markup.BlockHeading:
			p.Elements = append(p.Elements, Element{Kind: ElementHeading, Text: block.Text, Level: block.Level})
		case markup.BlockQuestion:
			p.Elements = append(p.Elements, Element{Kind: ElementQuestion, Question: block.Question})
		}
	}
	if p.Title == "" {
		p.Title = page
	}
	return p, nil
}
