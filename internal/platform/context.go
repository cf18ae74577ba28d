// Package platform is the contract between the page controller and the
// courseware host: the per-request Context, page loading and page rendering.
package platform

import "strings"

// HandlerRawResponse tells the host to send Response verbatim.
const HandlerRawResponse = "raw_response"

// Staff roles may use diagnostic actions.
var staffRoles = map[string]struct{}{
	"LA":         {},
	"TA":         {},
	"UTA":        {},
	"Admin":      {},
	"Instructor": {},
}

// UserInfo describes the requesting user as known to the host.
type UserInfo struct {
	Role     string
	Username string
	APIToken string
}

// IsStaff reports whether the role grants staff privileges.
func (u UserInfo) IsStaff() bool {
	_, ok := staffRoles[u.Role]
	return ok
}

// Context carries one request between the host and the page controller.
// The controller reads the request fields and writes the result fields.
type Context struct {
	Course   string
	URLRoot  string
	PathInfo []string
	Username string
	UserInfo UserInfo
	Form     map[string]string

	// Page is the loaded page, if any; ProblemSpec holds the elements to render.
	Page          *Page
	ProblemSpec   []Element
	Scripts       string
	ContentHeader string
	Footer        string

	Response    string
	ContentType string
	Handler     string

	// Extra is passed through untouched.
	Extra map[string]any
}

// FormValue returns a trimmed form field.
func (c *Context) FormValue(key string) string {
	if c.Form == nil {
		return ""
	}
	return strings.TrimSpace(c.Form[key])
}

// Authenticated reports whether a user is logged in. The host may report an
// anonymous user as "None".
func (c *Context) Authenticated() bool {
	return c.Username != "" && c.Username != "None"
}

// SubContext returns a fresh context for loading another page on behalf of
// the same user.
func (c *Context) SubContext(page string) *Context {
	return &Context{
		Course:   c.Course,
		URLRoot:  c.URLRoot,
		PathInfo: []string{c.Course, page},
		Username: c.Username,
		UserInfo: c.UserInfo,
		Form:     map[string]string{},
		Extra:    c.Extra,
	}
}

// SetRaw stores a response the host sends as is.
func (c *Context) SetRaw(contentType, body string) {
	c.Handler = HandlerRawResponse
	c.ContentType = contentType
	c.Response = body
}

// LoginURL is the nbif login link for the course.
func (c *Context) LoginURL() string {
	return c.URLRoot + "/" + c.Course + "/nbif?do=auth&loginaction=login"
}
