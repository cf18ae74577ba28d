package platform

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/noah-isme/gema-nbif/internal/markup"
)

// StaticDir is the per-page directory served for CURRENT/ links.
const StaticDir = "__STATIC__"

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<title>{{.Title}}</title>
</head>
<body>
<header id="cs_header"><a href="{{.Home}}">{{.Course}}</a></header>
<nav id="cs_top_navigation"><a href="{{.Home}}">Home</a></nav>
<main id="cs_body">
<div id="cs_content_header">{{.ContentHeader}}</div>
{{range .Elements}}{{.}}
{{end}}</main>
<footer>{{.Footer}}</footer>
{{.Scripts}}
</body>
</html>
`

const questionTemplate = `<div class="cs_question" id="cs_qdiv_{{.Name}}" data-kind="{{.Kind}}">
{{.Prompt}}<textarea name="{{.Name}}" class="cs_answer" rows="10" cols="80">{{.Initial}}</textarea>
<button type="button" class="cs_submit" data-question="{{.Name}}">Submit</button>
</div>`

type pageView struct {
	Title         string
	Course        string
	Home          string
	ContentHeader template.HTML
	Elements      []template.HTML
	Footer        template.HTML
	Scripts       template.HTML
}

type questionView struct {
	Name    string
	Kind    string
	Prompt  template.HTML
	Initial string
}

// Renderer turns a Context's problem spec into a full HTML page.
type Renderer struct {
	md       goldmark.Markdown
	page     *template.Template
	question *template.Template
	logger   zerolog.Logger
}

// NewRenderer builds a page renderer.
func NewRenderer(logger zerolog.Logger) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		page:     template.Must(template.New("page").Parse(pageTemplate)),
		question: template.Must(template.New("question").Parse(questionTemplate)),
		logger:   logger.With().Str("component", "page_renderer").Logger(),
	}
}

// Render renders ctx.ProblemSpec with the content header, footer and scripts
// of ctx.
func (r *Renderer) Render(ctx *Context) (string, error) {
	view := pageView{
		Title:         ctx.Course,
		Course:        ctx.Course,
		Home:          ctx.URLRoot + "/" + ctx.Course,
		ContentHeader: template.HTML(ctx.ContentHeader),
		Footer:        template.HTML(ctx.Footer),
		Scripts:       template.HTML(ctx.Scripts),
	}
	if ctx.Page != nil && ctx.Page.Title != "" {
		view.Title = ctx.Page.Title
	}

	for _, el := range ctx.ProblemSpec {
		out, err := r.RenderElement(ctx, el)
		if err != nil {
			return "", err
		}
		view.Elements = append(view.Elements, out)
	}

	var buf bytes.Buffer
	if err := r.page.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// RenderElement renders a single page element.
func (r *Renderer) RenderElement(ctx *Context, el Element) (template.HTML, error) {
	switch el.Kind {
	case ElementHTML:
		return template.HTML(el.Text), nil
	case ElementHeading:
		level := el.Level + 1
		return template.HTML(fmt.Sprintf("<h%d>%s</h%d>", level, template.HTMLEscapeString(el.Text), level)), nil
	case ElementText:
		return r.markdown(ctx, el.Text)
	case ElementQuestion:
		return r.renderQuestion(ctx, el.Question)
	}
	r.logger.Warn().Int("kind", int(el.Kind)).Msg("unknown element kind")
	return "", nil
}

func (r *Renderer) renderQuestion(ctx *Context, q *markup.Question) (template.HTML, error) {
	view := questionView{Name: q.Name, Kind: q.Kind}
	if prompt, ok := q.Get(markup.SlotPrompt); ok {
		text := prompt.Value
		if !prompt.IsLiteral {
			text = prompt.Raw
		}
		html, err := r.markdown(ctx, text)
		if err != nil {
			return "", err
		}
		view.Prompt = html
	}
	if initial, ok := q.Get(markup.SlotInitial); ok && initial.IsLiteral {
		view.Initial = initial.Value
	}

	var buf bytes.Buffer
	if err := r.question.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render question %s: %w", q.Name, err)
	}
	return template.HTML(buf.String()), nil
}

func (r *Renderer) markdown(ctx *Context, text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(rewriteCurrent(ctx, buf.String())), nil
}

// rewriteCurrent points CURRENT/ links at the page's static route.
func rewriteCurrent(ctx *Context, html string) string {
	page := ""
	if ctx.Page != nil {
		page = ctx.Page.Name
	} else if len(ctx.PathInfo) > 1 {
		page = strings.Join(ctx.PathInfo[1:], "/")
	}
	if page == "" {
		return html
	}
	base := fmt.Sprintf("%s/%s/%s/%s/", ctx.URLRoot, ctx.Course, page, StaticDir)
	html = strings.ReplaceAll(html, `"CURRENT/`, `"`+base)
	return strings.ReplaceAll(html, `'CURRENT/`, `'`+base)
}
