package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin. An
	// entry like "https://*.cravekart.app" allows every subdomain of the host
	// under that scheme, but not the bare host.
	AllowOrigins []string
	// AllowMethods defaults to the methods the API routes use.
	AllowMethods []string
	// AllowHeaders, when empty, echoes Access-Control-Request-Headers.
	AllowHeaders  []string
	ExposeHeaders []string
	// AllowCredentials disables the "*" response: the origin is echoed.
	AllowCredentials bool
	// MaxAge in seconds. Zero omits the header, negative disables caching.
	MaxAge int
}

type corsPolicy struct {
	any      bool
	exact    map[string]string // lowercase origin -> configured spelling
	suffixes []originSuffix

	credentials bool
	methods     string
	headers     string
	expose      string
	maxAge      string
}

type originSuffix struct {
	scheme string // "https://"
	host   string // ".cravekart.app"
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		exact:       make(map[string]string),
		credentials: cfg.AllowCredentials,
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		lower := strings.ToLower(o)
		if scheme, host, ok := strings.Cut(lower, "*"); ok && strings.HasSuffix(scheme, "://") && strings.HasPrefix(host, ".") {
			p.suffixes = append(p.suffixes, originSuffix{scheme: scheme, host: host})
			continue
		}
		p.exact[lower] = o
	}
	if p.methods == "" {
		p.methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// wildcard reports whether responses use "*" instead of echoing. Browsers
// reject "*" on credentialed requests.
func (p *corsPolicy) wildcard() bool {
	return p.any && !p.credentials
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when it is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.wildcard() {
		return "*"
	}
	if p.any {
		return origin
	}
	lower := strings.ToLower(origin)
	if o, ok := p.exact[lower]; ok {
		return o
	}
	for _, s := range p.suffixes {
		rest, ok := strings.CutPrefix(lower, s.scheme)
		if ok && len(rest) > len(s.host) && strings.HasSuffix(rest, s.host) {
			return origin
		}
	}
	return ""
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		if p.headers != "" {
			h.Set("Access-Control-Allow-Headers", p.headers)
		} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, allow string) {
	h := w.Header()
	if !p.wildcard() {
		h.Add("Vary", "Origin")
	}
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS answers preflights itself and decorates other cross-origin responses.
// Preflights from disallowed origins get a bare 204.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !p.wildcard() {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}
			p.actual(w, allow)
			next.ServeHTTP(w, r)
		})
	}
}
