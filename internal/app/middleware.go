package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/ecclesia-app/ecclesia/internal/observability"
	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
}

// MiddlewareStack installs the shared middleware chain. Order matters: the
// session runs before anything that reads the principal.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		secureHeaders(cfg),
		sessionPrincipal(cfg),
		middleware.Timeout(timeout),
		middleware.Compress(5),
		httprate.Limit(120, time.Minute, httprate.WithKeyFuncs(keyByPrincipal)),
		csrfProtect(cfg),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

func secureHeaders(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            stsSeconds(cfg.Config),
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func stsSeconds(c *Config) int64 {
	if c.IsProduction() {
		return 31536000
	}
	return 0
}

// sessionPrincipal loads the session and, when it carries a signed-in
// principal, attaches that id to the request context. The session is
// committed just before the first header write, or after the handler returns
// when it wrote nothing.
func sessionPrincipal(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := cfg.SessionManager.Load(ctx, r)
			if err != nil {
				cfg.Logger.Error("load session", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
				return
			}
			ctx = shared.ContextWithSession(ctx, sess)
			if id := sess.Principal(); id != "" {
				ctx = shared.ContextWithPrincipal(ctx, id)
			}
			r = r.WithContext(ctx)
			cw := &committingWriter{ResponseWriter: w, commit: func() {
				if err := cfg.SessionManager.Commit(ctx, w, r, sess); err != nil {
					cfg.Logger.Warn("commit session", slog.String("session", sess.ID), slog.Any("error", err))
				}
			}}
			next.ServeHTTP(cw, r)
			// Handlers that write nothing still get the implicit 200, which
			// net/http sends only after this returns.
			cw.commitOnce()
		})
	}
}

type committingWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *committingWriter) commitOnce() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}

func (w *committingWriter) WriteHeader(status int) {
	w.commitOnce()
	w.ResponseWriter.WriteHeader(status)
}

func (w *committingWriter) Write(data []byte) (int, error) {
	w.commitOnce()
	return w.ResponseWriter.Write(data)
}

func (w *committingWriter) Flush() {
	w.commitOnce()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *committingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// keyByPrincipal buckets signed-in callers by principal id and everyone else
// by client address.
func keyByPrincipal(r *http.Request) (string, error) {
	if id, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "principal:" + id, nil
	}
	ip, err := httprate.KeyByIP(r)
	return "ip:" + ip, err
}

func csrfProtect(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if err := cfg.CSRFManager.VerifyToken(r.Context(), sess, r.Header.Get(shared.CSRFHeader)); err != nil {
				cfg.Logger.Warn("csrf validation failed",
					slog.String("path", r.URL.Path),
					slog.String("principal", principalOf(r.Context())),
					slog.Any("error", err))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalOf(ctx context.Context) string {
	id, _ := shared.PrincipalFromContext(ctx)
	return id
}
