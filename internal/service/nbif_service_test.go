package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-nbif/internal/dto"
	"github.com/noah-isme/gema-nbif/internal/models"
	"github.com/noah-isme/gema-nbif/internal/platform"
	"github.com/noah-isme/gema-nbif/internal/repository"
)

const servicePage = `<section>Problems</section>
Some <b>intro</b> text.
<question pythoncode>
csq_name = "sum42"
csq_prompt = """Add the numbers"""
</question>
<question pythoncode>
csq_prompt = "unnamed"
</question>
`

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type nbifFixture struct {
	svc    NBIFService
	tokens TokenService
	redis  *miniredis.Miniredis
}

func newNBIFFixture(t *testing.T) nbifFixture {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "6.01", "test_problems")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, platform.PageFile), []byte(servicePage), 0o644))

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.APIToken{}))
	tokens := NewTokenService(repository.NewAPITokenRepository(db), testLogger())

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewNBIFService(platform.NewFSLoader(root), platform.NewRenderer(testLogger()), tokens, client, NBIFOptions{}, testLogger())
	return nbifFixture{svc: svc, tokens: tokens, redis: server}
}

func newRequest(username, role string, form map[string]string) *platform.Context {
	return &platform.Context{
		Course:   "6.01",
		URLRoot:  "https://cat.example.edu",
		Username: username,
		UserInfo: platform.UserInfo{Role: role, Username: username},
		Form:     form,
	}
}

func TestNBIFUnknownAction(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("None", "", map[string]string{})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	require.Equal(t, platform.HandlerRawResponse, pctx.Handler)
	require.Equal(t, "text/html", pctx.ContentType)
	require.Equal(t, "unknown nbif action", pctx.Response)
}

func TestNBIFAuthAuthenticatedIssuesToken(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("alice", "Student", map[string]string{"do": "auth"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	require.Empty(t, pctx.Handler)
	require.Len(t, pctx.ProblemSpec, 1)
	body := pctx.ProblemSpec[0].Text
	require.Contains(t, body, "You have been authenticated to catsoop as alice")
	require.Contains(t, body, "<div id='nbif_msg'></div>")

	token, err := f.tokens.Issue(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, token, pctx.UserInfo.APIToken)
	require.Contains(t, body, fmt.Sprintf(`window.parent.postMessage({"api_token":"%s","username":"alice"}, '*');`, token))
}

func TestNBIFAuthAnonymousShowsLogin(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("None", "", map[string]string{"do": "auth"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	body := pctx.ProblemSpec[0].Text
	require.Contains(t, body, "please <a target='blank' href='https://cat.example.edu/6.01/nbif?do=auth&amp;loginaction=login'>login</a>")
	require.NotContains(t, body, "postMessage")
}

func TestNBIFListQuestions(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("alice", "", map[string]string{"do": "list", "page": "test_problems"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	require.Equal(t, "application/json", pctx.ContentType)
	var payload dto.ProblemList
	require.NoError(t, json.Unmarshal([]byte(pctx.Response), &payload))
	require.Equal(t, []string{"sum42", "q000000"}, payload.ProblemNames)
}

func TestNBIFQuestionRendersSingleQuestion(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("alice", "Student", map[string]string{"page": "test_problems", "csq_name": "sum42"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	html := pctx.Response
	require.Equal(t, platform.HandlerRawResponse, pctx.Handler)
	require.Contains(t, html, `id="cs_qdiv_sum42"`)
	require.NotContains(t, html, "cs_qdiv_q000000")
	require.NotContains(t, html, "intro")
	require.Contains(t, html, `id="cs_header" style="display:none"`)
	require.Contains(t, html, `id="cs_top_navigation" style="display:none"`)
	require.Contains(t, html, `<footer style="display:none">`)
	require.Contains(t, html, "iframeResizer.contentWindow.min.js")
	require.Contains(t, html, "lti.frameResize")
	require.NotContains(t, html, "not authenticated")

	keys := f.redis.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "nbif:question:6.01:test_problems:sum42:"))

	again := newRequest("alice", "Student", map[string]string{"page": "test_problems", "csq_name": "sum42"})
	require.NoError(t, f.svc.Respond(context.Background(), again))
	require.Equal(t, html, again.Response)
}

func TestNBIFQuestionWarnsAnonymousUsers(t *testing.T) {
	f := newNBIFFixture(t)
	pctx := newRequest("None", "", map[string]string{"page": "test_problems", "csq_name": "q000000"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))

	require.Contains(t, pctx.Response, "Warning: you are not authenticated")
	require.Contains(t, pctx.Response, "enable third-party cookies for https://cat.example.edu")
	require.Contains(t, pctx.Response, `id="cs_qdiv_q000000"`)
}

func TestNBIFQuestionNotFound(t *testing.T) {
	f := newNBIFFixture(t)

	pctx := newRequest("alice", "", map[string]string{"page": "test_problems", "csq_name": "nope"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))
	require.Equal(t, "question with csq_name=nope in page=test_problems not found", pctx.Response)

	pctx = newRequest("alice", "", map[string]string{"page": "missing", "csq_name": "<script>alert(1)</script>x"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))
	require.NotContains(t, pctx.Response, "<script>")
	require.Contains(t, pctx.Response, "in page=missing not found")

	pctx = newRequest("alice", "", map[string]string{"page": "../secret", "csq_name": "x"})
	require.ErrorIs(t, f.svc.Respond(context.Background(), pctx), ErrInvalidPage)
}

func TestNBIFDebugRequiresStaff(t *testing.T) {
	f := newNBIFFixture(t)

	pctx := newRequest("alice", "Student", map[string]string{"do": "debug", "page": "test_problems"})
	require.ErrorIs(t, f.svc.Respond(context.Background(), pctx), ErrDebugForbidden)

	pctx = newRequest("bob", "TA", map[string]string{"do": "debug", "page": "test_problems"})
	require.NoError(t, f.svc.Respond(context.Background(), pctx))
	require.Contains(t, pctx.Response, "<li><pre>heading(1) Problems</pre><br/>")
	require.Contains(t, pctx.Response, "Some &lt;b&gt;intro&lt;/b&gt; text.")
	require.Contains(t, pctx.Response, "[pythoncode sum42 ")
}

func TestTokenServiceRejectsAnonymous(t *testing.T) {
	f := newNBIFFixture(t)
	_, err := f.tokens.Issue(context.Background(), "None")
	require.ErrorIs(t, err, ErrAnonymousUser)

	token, err := f.tokens.Issue(context.Background(), "carol")
	require.NoError(t, err)
	username, err := f.tokens.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "carol", username)
}
