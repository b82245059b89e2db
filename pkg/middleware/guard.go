package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/validate"
)

// AuthFunc reports the authenticated user ID for a request, 0 for an
// anonymous visitor, along with the user's capabilities.
type AuthFunc func(r *http.Request) (int, []string)

// Guard runs every request through the validation pipeline and sends the
// configured blocking response on a denial. In simulate mode the pipeline
// still runs (and logs) but nothing is ever blocked.
type Guard struct {
	Pipeline *validate.Pipeline
	Auth     AuthFunc
}

// NewGuard wraps a pipeline. A nil auth function treats every visitor as
// anonymous.
func NewGuard(p *validate.Pipeline) *Guard {
	return &Guard{Pipeline: p}
}

// Middleware returns the interpose-compatible wrapper.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := g.buildRequest(r)
			res := g.Pipeline.Validate(q)

			if res.Blocked() {
				s := g.Pipeline.Settings
				if s.Simulate {
					log.WithFields(log.Fields{
						"hook":   q.Hook,
						"ip":     res.IP,
						"result": res.Outcome(),
					}).Info("Simulation: request would have been blocked")
				} else {
					Dispatch(w, r, q.Hook, res, s)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) buildRequest(r *http.Request) *validate.Request {
	q := &validate.Request{
		HTTP:    r,
		Hook:    HookForPath(r.URL.Path),
		Action:  loginAction(r),
		Enforce: true,
	}
	if g.Auth != nil {
		q.Auth, q.Caps = g.Auth(r)
	}
	if q.Hook == "xmlrpc" {
		q.Multicall = sniffMulticall(r)
	}
	q.Uploads = uploadNames(r)
	q.Form = formValues(r)
	return q
}

// HookForPath classifies a request path into a validation hook.
func HookForPath(path string) string {
	switch {
	case strings.HasSuffix(path, "/wp-login.php"), path == "/wp-login.php":
		return "login"
	case strings.HasSuffix(path, "/xmlrpc.php"):
		return "xmlrpc"
	case strings.HasSuffix(path, "/wp-comments-post.php"):
		return "comment"
	case strings.Contains(path, "/wp-admin/admin-ajax.php"),
		strings.Contains(path, "/wp-admin/admin-post.php"):
		return "ajax"
	case strings.Contains(path, "/wp-admin/"):
		return "admin"
	case strings.Contains(path, "/wp-content/plugins/"):
		return "plugins"
	case strings.Contains(path, "/wp-content/themes/"):
		return "themes"
	default:
		return "public"
	}
}

func loginAction(r *http.Request) string {
	if action := r.URL.Query().Get("action"); action != "" {
		return action
	}
	return ""
}

// sniffMulticall peeks at an XML-RPC body for system.multicall, restoring
// the body for downstream handlers.
func sniffMulticall(r *http.Request) bool {
	if r.Body == nil || r.Method != http.MethodPost {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	return bytes.Contains(body, []byte("system.multicall"))
}

// formValues decodes an urlencoded form body for the signature check,
// restoring the body for downstream handlers.
func formValues(r *http.Request) url.Values {
	if r.Body == nil || r.Method != http.MethodPost ||
		!strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	return vals
}

// uploadNames collects multipart upload filenames without consuming the
// request body for non-multipart requests.
func uploadNames(r *http.Request) []string {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		return nil
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil || r.MultipartForm == nil {
		return nil
	}
	var names []string
	for _, headers := range r.MultipartForm.File {
		for _, h := range headers {
			names = append(names, h.Filename)
		}
	}
	return names
}

// Dispatch sends the configured blocking response. 2xx serves the message
// (or a refresh redirect when a redirect URI is set), 3xx redirects for
// safe methods and degrades to 403 otherwise, 4xx/5xx answer with the
// status and message. Public-hook responses use the public overrides and
// carry X-Robots-Tag so blocked pages never get indexed.
func Dispatch(w http.ResponseWriter, r *http.Request, hook string, res *validate.Result, s *config.Settings) {
	code, msg, redirect := s.Response.Code, s.Response.Message, s.Response.RedirectURI
	if hook == "public" {
		if s.Public.ResponseCode != 0 {
			code = s.Public.ResponseCode
		}
		if s.Public.ResponseMsg != "" {
			msg = s.Public.ResponseMsg
		}
		if s.Public.RedirectURI != "" {
			redirect = s.Public.RedirectURI
		}
		w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	}
	if code == 0 {
		code = http.StatusForbidden
	}
	if msg == "" {
		msg = http.StatusText(code)
		if msg == "" {
			msg = http.StatusText(http.StatusForbidden)
		}
	}

	switch {
	case code < 300:
		if redirect != "" {
			w.Header().Set("Refresh", "0; url="+redirect)
		}
		w.WriteHeader(code)
		io.WriteString(w, msg)
	case code < 400:
		if redirect == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		http.Redirect(w, r, redirect, code)
	default:
		http.Error(w, msg, code)
	}
}
