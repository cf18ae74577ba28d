// Package nbbridge renders the courseware authentication and question
// iframes inside a notebook. A Bridge is created once per notebook with the
// host and course of the courseware instance, then DoAuth and ShowQuestion
// return HTML fragments for the notebook to display.
package nbbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultURLBase is used when neither host/course nor a URL base is given.
const DefaultURLBase = "https://localhost:6010/course"

// StateEnv overrides the location of the persisted auth state.
const StateEnv = "NBIF_BRIDGE_STATE"

const resizeScript = `
<script src="https://cdnjs.cloudflare.com/ajax/libs/iframe-resizer/4.3.2/iframeResizer.min.js"
    integrity="sha512-dnvR4Aebv5bAtJxDunq3eE8puKAJrY9GBJYl9GC6lTOEC76s1dbDfJFcL9GyzpaDW4vlI/UjR8sKbc1j6Ynx6w=="
    crossorigin="anonymous" referrerpolicy="no-referrer"></script>
<script type="text/javascript">
    var start_resize = function(){
        if (typeof(iFrameResize)=="undefined"){
            setTimeout(start_resize, 100);
            return;
        }
        iFrameResize({log:false, checkOrigin:false});
    }
    try { start_resize(); }
    catch(err){ console.log("[iframe_resize] error: ", err); }
</script>
`

// setAuthScript forwards the credentials posted by the nbauth page to the
// kernel. Only front ends exposing IPython.notebook.kernel can deliver them;
// elsewhere the user calls CIF.SetAuth by hand with the logged token.
const setAuthScript = `
console.log("nbif bridge set_auth loaded")

window.addEventListener("message", (event) => {
    var api_token = event.data && event.data.api_token;
    var username = event.data && event.data.username;
    if (!api_token){
        console.log("[set_auth] ignoring message");
        return;
    }
    if (typeof IPython === 'undefined' || !IPython.notebook || !IPython.notebook.kernel){
        console.log("[set_auth] no kernel bridge; run CIF.SetAuth(" + JSON.stringify(api_token) + ", " + JSON.stringify(username) + ")");
        return;
    }
    IPython.notebook.kernel.execute("%%\nCIF.SetAuth(" + JSON.stringify(api_token) + ", " + JSON.stringify(username) + ")");
});
`

// Options configures a Bridge.
type Options struct {
	// Host and Course build the base URL https://<Host>/<Course>.
	Host   string
	Course string
	// URLBase is used when Host or Course is empty.
	URLBase string
	// StatePath persists auth between kernel executions. Empty disables
	// persistence.
	StatePath string
}

// Bridge holds the courseware base URL and the notebook user's credentials.
type Bridge struct {
	urlBase   string
	statePath string

	mu       sync.RWMutex
	apiToken string
	username string
}

type state struct {
	URLBase  string `json:"url_base"`
	APIToken string `json:"api_token"`
	Username string `json:"username"`
}

// New builds a bridge and restores auth persisted for the same base URL.
func New(opts Options) *Bridge {
	base := opts.URLBase
	if opts.Host != "" && opts.Course != "" {
		base = fmt.Sprintf("https://%s/%s", opts.Host, opts.Course)
	}
	if base == "" {
		base = DefaultURLBase
	}

	b := &Bridge{urlBase: strings.TrimRight(base, "/"), statePath: opts.StatePath}
	if s, err := b.load(); err == nil && s.URLBase == b.urlBase {
		b.apiToken = s.APIToken
		b.username = s.Username
	}
	return b
}

// DefaultStatePath returns $NBIF_BRIDGE_STATE or a file in the user cache
// directory.
func DefaultStatePath() string {
	if path := os.Getenv(StateEnv); path != "" {
		return path
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "nbif", "bridge-auth.json")
}

// URLBase returns the courseware course URL.
func (b *Bridge) URLBase() string {
	return b.urlBase
}

// SetAuth records credentials posted back by the auth iframe. Empty values
// are ignored so an authenticated bridge never reverts.
func (b *Bridge) SetAuth(apiToken, username string) error {
	if apiToken == "" || username == "" {
		return nil
	}
	b.mu.Lock()
	b.apiToken = apiToken
	b.username = username
	b.mu.Unlock()
	return b.save()
}

// Authenticated reports whether credentials have been set.
func (b *Bridge) Authenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.apiToken != "" && b.username != ""
}

// Username returns the authenticated user, if any.
func (b *Bridge) Username() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.username
}

// APIToken returns the courseware API token, if any.
func (b *Bridge) APIToken() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.apiToken
}

// DoAuth returns the auth iframe with the script that forwards the posted
// credentials to the kernel.
func (b *Bridge) DoAuth() string {
	src := html.EscapeString(b.urlBase + "/nbauth")
	return fmt.Sprintf("<script type=\"text/javascript\">%s</script>\n<iframe src=\"%s\" width=700 height=350></iframe>", setAuthScript, src)
}

// PrintAuth writes a one-line auth status.
func (b *Bridge) PrintAuth(w io.Writer) error {
	var err error
	if b.Authenticated() {
		_, err = fmt.Fprintf(w, "You have been authenticated successfully as %s to %s\n", b.Username(), b.urlBase)
	} else {
		_, err = fmt.Fprintf(w, "Authentication not yet established to %s\n", b.urlBase)
	}
	return err
}

// ShowQuestion returns an auto-resizing iframe showing one question.
func (b *Bridge) ShowQuestion(page, name string) string {
	return resizeScript + fmt.Sprintf("<iframe src='%s' width='100%%' height='50'></iframe>", html.EscapeString(b.QuestionURL(page, name)))
}

// QuestionURL is the nbquestion URL for one question.
func (b *Bridge) QuestionURL(page, name string) string {
	return b.urlBase + "/nbquestion?page=" + url.QueryEscape(page) + "&csq_name=" + url.QueryEscape(name)
}

func (b *Bridge) load() (state, error) {
	var s state
	if b.statePath == "" {
		return s, os.ErrNotExist
	}
	data, err := os.ReadFile(b.statePath)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(data, &s)
	return s, err
}

func (b *Bridge) save() error {
	if b.statePath == "" {
		return nil
	}
	b.mu.RLock()
	data, err := json.Marshal(state{URLBase: b.urlBase, APIToken: b.apiToken, Username: b.username})
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.statePath), 0o700); err != nil {
		return errors.Join(errors.New("persist bridge auth"), err)
	}
	return os.WriteFile(b.statePath, data, 0o600)
}
