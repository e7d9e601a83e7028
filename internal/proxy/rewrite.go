// Package proxy forwards selected path prefixes to the document backend.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Rule maps a source path pattern to a destination path on the backend.
// Patterns use ":name" for one segment and ":name*" for the remaining path.
type Rule struct {
	Source      string
	Destination string
}

// DefaultRules are the upload and document conversion routes served by the
// document backend.
var DefaultRules = []Rule{
	{Source: "/uploads/:path*", Destination: "/uploads/:path*"},
	{Source: "/api/pdf/:id", Destination: "/api/pdf/:id"},
	{Source: "/api/docx/:id", Destination: "/api/docx/:id"},
}

// Rewriter resolves request paths against its rules and forwards matches.
type Rewriter struct {
	backend *url.URL
	rules   []Rule
	proxy   *httputil.ReverseProxy
	logger  *zap.Logger
}

// New builds a Rewriter that forwards to backend (e.g. "http://localhost:5000").
func New(backend string, rules []Rule, logger *zap.Logger) (*Rewriter, error) {
	target, err := url.Parse(backend)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse backend url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy: backend url %q must be absolute", backend)
	}
	for _, rule := range rules {
		if !strings.HasPrefix(rule.Source, "/") || !strings.HasPrefix(rule.Destination, "/") {
			return nil, fmt.Errorf("proxy: rule %q -> %q must use absolute paths", rule.Source, rule.Destination)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rw := &Rewriter{
		backend: target,
		rules:   rules,
		logger:  logger,
	}
	rw.proxy = &httputil.ReverseProxy{
		Rewrite:      rw.rewrite,
		ErrorHandler: rw.handleError,
	}
	return rw, nil
}

// Rules returns the configured rules.
func (rw *Rewriter) Rules() []Rule {
	return rw.rules
}

// Resolve returns the backend URL for path, or false when no rule matches.
func (rw *Rewriter) Resolve(path string) (string, bool) {
	for _, rule := range rw.rules {
		params, ok := match(rule.Source, path)
		if !ok {
			continue
		}
		dest := *rw.backend
		dest.Path = strings.TrimRight(rw.backend.Path, "/") + expand(rule.Destination, params)
		dest.RawPath = ""
		return dest.String(), true
	}
	return "", false
}

// ServeHTTP forwards the request when a rule matches and 404s otherwise.
func (rw *Rewriter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := rw.Resolve(r.URL.Path); !ok {
		http.NotFound(w, r)
		return
	}
	rw.proxy.ServeHTTP(w, r)
}

func (rw *Rewriter) rewrite(pr *httputil.ProxyRequest) {
	resolved, _ := rw.Resolve(pr.In.URL.Path)
	dest, err := url.Parse(resolved)
	if err != nil {
		// Resolve only produces URLs built from a parsed backend.
		fallback := *rw.backend
		dest = &fallback
	}
	dest.RawQuery = pr.In.URL.RawQuery

	pr.Out.URL = dest
	pr.Out.Host = dest.Host
	pr.SetXForwarded()
}

func (rw *Rewriter) handleError(w http.ResponseWriter, r *http.Request, err error) {
	rw.logger.Warn("proxy upstream failed",
		zap.String("path", r.URL.Path),
		zap.String("backend", rw.backend.Host),
		zap.Error(err))
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}

// RoutePattern converts a rule source into a chi route pattern.
func RoutePattern(source string) string {
	segments := strings.Split(strings.TrimPrefix(source, "/"), "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := strings.TrimPrefix(seg, ":")
		if strings.HasSuffix(name, "*") {
			segments[i] = "*"
			continue
		}
		segments[i] = "{" + name + "}"
	}
	return "/" + strings.Join(segments, "/")
}

func match(pattern, path string) (map[string]string, bool) {
	pSegs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	// Dot segments would let a wildcard capture climb out of the rule's prefix.
	for _, seg := range segs {
		if seg == "." || seg == ".." {
			return nil, false
		}
	}
	params := make(map[string]string, len(pSegs))

	for i, p := range pSegs {
		if strings.HasPrefix(p, ":") && strings.HasSuffix(p, "*") {
			name := strings.TrimSuffix(strings.TrimPrefix(p, ":"), "*")
			if i >= len(segs) {
				params[name] = ""
				return params, true
			}
			params[name] = strings.Join(segs[i:], "/")
			return params, true
		}
		if i >= len(segs) {
			return nil, false
		}
		if strings.HasPrefix(p, ":") {
			if segs[i] == "" {
				return nil, false
			}
			params[strings.TrimPrefix(p, ":")] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}

	if len(segs) != len(pSegs) {
		return nil, false
	}
	return params, true
}

func expand(pattern string, params map[string]string) string {
	segs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if !strings.HasPrefix(s, ":") {
			out = append(out, s)
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(s, ":"), "*")
		if v := params[name]; v != "" {
			out = append(out, v)
		}
	}
	return "/" + strings.Join(out, "/")
}
