package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-nbif/internal/dto"
	"github.com/noah-isme/gema-nbif/internal/observability"
	"github.com/noah-isme/gema-nbif/internal/platform"
)

// nbif actions selected by the "do" form field.
const (
	ActionQuestion = "question"
	ActionAuth     = "auth"
	ActionList     = "list"
	ActionDebug    = "debug"
)

const (
	contentTypeHTML = "text/html"
	contentTypeJSON = "application/json"

	unknownActionMessage = "unknown nbif action"
	debugDumpLimit       = 100
)

var (
	// ErrDebugForbidden is returned when a non-staff user asks for a page dump.
	ErrDebugForbidden = errors.New("debug action requires a staff role")
	// ErrInvalidPage is returned for page names that cannot be loaded.
	ErrInvalidPage = errors.New("invalid page")
)

const resizeScripts = `<script type="text/javascript" src="https://cdnjs.cloudflare.com/ajax/libs/iframe-resizer/3.6.3/iframeResizer.contentWindow.min.js"></script>` +
	`<script type="text/javascript">
var do_nbif_resize = function(){
    if ( window.self === window.top ) { return; }
    var body = document.body, html = document.documentElement;
    window.originalInnerHeight = window.innerHeight;
    var myheight = Math.max( body.scrollHeight, body.offsetHeight,
                             html.clientHeight, html.scrollHeight, html.offsetHeight );
    var resize = function(){
        if (!window.parent.postMessage){
            window.setTimeout(resize, 500);
            return;
        }
        try {
            window.parent.postMessage('{"subject":"lti.frameResize", "height":' + myheight + '}', '*');
        } catch (err) {
            console.log("[nbif_iframe_resize] " + err);
        }
    };
    window.setTimeout(resize, 500);
};
if (document.readyState === "complete" || (document.readyState !== "loading" && !document.documentElement.doScroll)) {
    do_nbif_resize();
} else {
    document.addEventListener("DOMContentLoaded", do_nbif_resize);
}
</script>`

const chromeScript = `
var nbauth_setup = function(){
    document.getElementById( 'cs_body' ).style['background-color'] = 'white';
    var felems = document.getElementsByTagName( 'footer' );
    Array.prototype.slice.call(felems).forEach(function(e){e.style.display='none'});
    if ( window.location == window.parent.location ){
        var msg = document.getElementById( 'nbif_msg' );
        if (msg) { msg.innerHTML = "Please go back to your notebook now"; }
    }
};
if (document.readyState === "complete"){
    nbauth_setup();
} else {
    document.addEventListener("DOMContentLoaded", nbauth_setup);
}
`

var chromeReplacer = strings.NewReplacer(
	`id="cs_header"`, `id="cs_header" style="display:none"`,
	`id="cs_top_navigation"`, `id="cs_top_navigation" style="display:none"`,
	`<footer>`, `<footer style="display:none">`,
)

// NBIFService answers notebook interface requests for a course.
type NBIFService interface {
	// Respond reads the request fields of pctx and writes its result fields.
	Respond(ctx context.Context, pctx *platform.Context) error
}

// NBIFOptions tunes the page controller.
type NBIFOptions struct {
	CacheTTL time.Duration
}

type nbifService struct {
	loader    platform.PageLoader
	renderer  *platform.Renderer
	tokens    TokenService
	cache     *redis.Client
	cacheTTL  time.Duration
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewNBIFService constructs the page controller. tokens and cache may be nil.
func NewNBIFService(loader platform.PageLoader, renderer *platform.Renderer, tokens TokenService, cache *redis.Client, opts NBIFOptions, logger zerolog.Logger) NBIFService {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &nbifService{
		loader:    loader,
		renderer:  renderer,
		tokens:    tokens,
		cache:     cache,
		cacheTTL:  ttl,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "nbif_service").Logger(),
		tracer:    observability.Tracer("service/nbif"),
	}
}

func (s *nbifService) Respond(ctx context.Context, pctx *platform.Context) error {
	do := pctx.FormValue("do")
	if do == "" {
		do = ActionQuestion
	}
	page := pctx.FormValue("page")

	ctx, span := s.tracer.Start(ctx, "nbif.respond", trace.WithAttributes(
		attribute.String("nbif.course", pctx.Course),
		attribute.String("nbif.action", do),
		attribute.String("nbif.page", page),
	))
	defer span.End()

	var err error
	switch {
	case do == ActionAuth:
		err = s.doAuth(ctx, pctx)
	case page != "":
		err = s.doQuestionPage(ctx, pctx, page, pctx.FormValue("csq_name"), do)
	default:
		pctx.SetRaw(contentTypeHTML, unknownActionMessage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nbif request failed")
	}
	return err
}

func (s *nbifService) doAuth(ctx context.Context, pctx *platform.Context) error {
	if !pctx.Authenticated() {
		body := fmt.Sprintf("please <a target='blank' href='%s'>login</a>", html.EscapeString(pctx.LoginURL()))
		body += fmt.Sprintf("<script type='text/javascript'>%s</script>", chromeScript)
		pctx.ProblemSpec = []platform.Element{{Kind: platform.ElementHTML, Text: body}}
		return nil
	}

	if pctx.UserInfo.APIToken == "" && s.tokens != nil {
		token, err := s.tokens.Issue(ctx, pctx.Username)
		if err != nil {
			return fmt.Errorf("issue api token: %w", err)
		}
		pctx.UserInfo.APIToken = token
	}
	username := pctx.UserInfo.Username
	if username == "" {
		username = pctx.Username
	}

	message, err := json.Marshal(map[string]string{"api_token": pctx.UserInfo.APIToken, "username": username})
	if err != nil {
		return err
	}
	js := fmt.Sprintf("window.parent.postMessage(%s, '*');", message) + chromeScript

	body := "You have been authenticated to catsoop as " + html.EscapeString(pctx.Username)
	body += "<div id='nbif_msg'></div>"
	body += fmt.Sprintf("<script type='text/javascript'>%s</script>", js)
	pctx.ProblemSpec = []platform.Element{{Kind: platform.ElementHTML, Text: body}}

	s.logger.Info().Str("course", pctx.Course).Str("username", pctx.Username).Msg("notebook authenticated")
	return nil
}

func (s *nbifService) doQuestionPage(ctx context.Context, pctx *platform.Context, page, name, do string) error {
	start := time.Now()
	logger := s.logger.With().Str("course", pctx.Course).Str("page", page).Str("csq_name", name).Str("action", do).Logger()

	loaded, err := s.loader.Load(ctx, pctx.Course, page)
	switch {
	case errors.Is(err, platform.ErrInvalidPath):
		return fmt.Errorf("%w: %v", ErrInvalidPage, err)
	case errors.Is(err, platform.ErrPageNotFound):
		logger.Warn().Msg("page not found")
		pctx.SetRaw(contentTypeHTML, s.notFound(name, page))
		return nil
	case err != nil:
		return fmt.Errorf("load page %s: %w", page, err)
	}

	switch do {
	case ActionDebug:
		if !pctx.UserInfo.IsStaff() {
			return ErrDebugForbidden
		}
		pctx.SetRaw(contentTypeHTML, debugDump(loaded))
		return nil
	case ActionList:
		body, err := json.Marshal(dto.ProblemList{ProblemNames: loaded.QuestionNames()})
		if err != nil {
			return err
		}
		pctx.SetRaw(contentTypeJSON, string(body))
		return nil
	}

	el, ok := loaded.FindQuestion(name)
	if !ok {
		logger.Debug().Msg("question not found")
		pctx.SetRaw(contentTypeHTML, s.notFound(name, page))
		return nil
	}

	key := questionCacheKey(pctx, loaded, name)
	if cached, ok := s.cached(ctx, key); ok {
		pctx.SetRaw(contentTypeHTML, cached)
		return nil
	}

	sub := pctx.SubContext(page)
	sub.Page = loaded
	sub.ProblemSpec = []platform.Element{el}
	sub.Footer = ""
	sub.Scripts += resizeScripts
	if !pctx.Authenticated() {
		sub.ContentHeader = fmt.Sprintf(
			"Warning: you are not authenticated; please <a target='blank' href='%s'>login</a> first.<br/>You may also need to enable third-party cookies for %s",
			html.EscapeString(pctx.LoginURL()), html.EscapeString(pctx.URLRoot),
		)
	}

	out, err := s.renderer.Render(sub)
	if err != nil {
		return err
	}
	out = chromeReplacer.Replace(out)
	observability.QuestionRender().WithLabelValues(pctx.Course).Observe(time.Since(start).Seconds())

	s.store(ctx, key, out)
	pctx.SetRaw(contentTypeHTML, out)
	return nil
}

func (s *nbifService) notFound(name, page string) string {
	return s.sanitizer.Sanitize(fmt.Sprintf("question with csq_name=%s in page=%s not found", name, page))
}

func debugDump(page *platform.Page) string {
	var b strings.Builder
	for _, el := range page.Elements {
		var dump string
		switch el.Kind {
		case platform.ElementQuestion:
			dump = fmt.Sprintf("[%s %s %s]", el.Question.Kind, el.Question.Name, el.Question.Raw)
		case platform.ElementHeading:
			dump = fmt.Sprintf("heading(%d) %s", el.Level, el.Text)
		default:
			dump = el.Text
		}
		b.WriteString("<li><pre>")
		b.WriteString(html.EscapeString(truncateRunes(dump, debugDumpLimit)))
		b.WriteString("</pre><br/>")
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func questionCacheKey(pctx *platform.Context, page *platform.Page, name string) string {
	return fmt.Sprintf("nbif:question:%s:%s:%s:%d:%t", pctx.Course, page.Name, name, page.ModTime.UnixNano(), pctx.Authenticated())
}

func (s *nbifService) cached(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, err := s.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		observability.QuestionCache().WithLabelValues("hit").Inc()
		return value, true
	case errors.Is(err, redis.Nil):
		observability.QuestionCache().WithLabelValues("miss").Inc()
	default:
		observability.QuestionCache().WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("question cache lookup failed")
	}
	return "", false
}

func (s *nbifService) store(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("question cache store failed")
	}
}
