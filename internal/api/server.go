package api

import (
	"context"
	stdjson "encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/klauspost/compress/gzip"

	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/backup"
	"github.com/wrenchio/workshop-backend/internal/secretbox"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

// sessionCookieName is the browser session cookie.
const sessionCookieName = "wks_session"

// Server is the HTTP API server.
type Server struct {
	store            storage.Store
	gate             *auth.Gate
	orgs             *orgCache
	humaAPI          huma.API
	sessionTTL       time.Duration
	apiTokenTTL      time.Duration
	fileTokenTTL     time.Duration
	maxSnapshotBytes int
	fileTokens       *auth.FileTokenIssuer  // nil = signed file URLs disabled
	oidcAuth         auth.OIDCAuthenticator // nil = browser login disabled
	secrets          *secretbox.Box         // encrypts OIDC refresh tokens at rest
	presets          []auth.RolePreset
	backups          *backup.Runner // nil = on-demand backups disabled
}

// NewServer creates a new API server.
func NewServer(store storage.Store, gate *auth.Gate, opts ...ServerOption) *Server {
	s := &Server{
		store:            store,
		gate:             gate,
		sessionTTL:       7 * 24 * time.Hour,
		fileTokenTTL:     5 * time.Minute,
		maxSnapshotBytes: 32 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orgs == nil {
		s.orgs = newOrgCache(store, 256, time.Minute)
	}
	return s
}

// ServerOption configures the API server.
type ServerOption func(*Server)

// WithSessionTTL sets the browser session lifetime.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.sessionTTL = ttl }
}

// WithAPITokenTTL sets the default API token lifetime (0 = no expiry).
func WithAPITokenTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.apiTokenTTL = ttl }
}

// WithFileTokens sets the issuer for signed file download URLs.
func WithFileTokens(issuer *auth.FileTokenIssuer, ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.fileTokens = issuer
		if ttl > 0 {
			s.fileTokenTTL = ttl
		}
	}
}

// WithOIDCAuth enables the browser login flow.
func WithOIDCAuth(oa auth.OIDCAuthenticator) ServerOption {
	return func(s *Server) { s.oidcAuth = oa }
}

// WithSecretBox sets the box used to encrypt OIDC refresh tokens at rest.
func WithSecretBox(box *secretbox.Box) ServerOption {
	return func(s *Server) { s.secrets = box }
}

// WithRolePresets sets the suggested custom-role definitions.
func WithRolePresets(presets []auth.RolePreset) ServerOption {
	return func(s *Server) { s.presets = presets }
}

// WithOrgCache sets the organization display cache parameters.
func WithOrgCache(size int, ttl time.Duration) ServerOption {
	return func(s *Server) { s.orgs = nil; s.orgs = newOrgCache(s.store, size, ttl) }
}

// WithMaxSnapshotBytes caps compressed snapshot upload size.
func WithMaxSnapshotBytes(n int) ServerOption {
	return func(s *Server) { s.maxSnapshotBytes = n }
}

// WithBackups enables the on-demand admin backup endpoint.
func WithBackups(r *backup.Runner) ServerOption {
	return func(s *Server) { s.backups = r }
}

// humaJSONFormat uses stdlib encoding/json for huma request/response serialization.
var humaJSONFormat = huma.Format{
	Marshal: func(w io.Writer, v any) error {
		return stdjson.NewEncoder(w).Encode(v)
	},
	Unmarshal: stdjson.Unmarshal,
}

// newHumaConfig creates the huma configuration for the API.
func newHumaConfig() huma.Config {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	config := huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:   "Workshop Backend API",
				Version: "0.1.0",
			},
			Components: &huma.Components{
				Schemas: registry,
			},
		},
		OpenAPIPath:   "", // Disabled; the document is served on our own route.
		DocsPath:      "",
		SchemasPath:   "",
		Formats:       map[string]huma.Format{"application/json": humaJSONFormat, "json": humaJSONFormat},
		DefaultFormat: "application/json",
	}
	// Allow extra fields in request bodies (desktop clients send fields we don't parse).
	config.AllowAdditionalPropertiesByDefault = true
	// Make body fields optional by default so partial updates validate.
	config.FieldsOptionalByDefault = true
	return config
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Router returns the configured HTTP handler with all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	api := humago.New(mux, newHumaConfig())
	api.UseMiddleware(metricsHumaMiddleware)
	s.humaAPI = api

	s.registerMeta(api)
	if s.oidcAuth != nil {
		s.registerLogin(api)
	}
	s.registerUser(api)
	s.registerOrg(api)
	s.registerTeam(api)
	s.registerTokens(api)
	s.registerCustomers(api)
	s.registerVehicles(api)
	s.registerQuotes(api)
	s.registerSync(api)
	s.registerAdmin(api)

	// HTTP-level middleware (outermost applied last).
	var handler http.Handler = mux
	handler = gzipDecompressor(handler)
	handler = requestLogger(handler)
	handler = recoverer(handler)
	handler = realIP(handler)
	return handler
}

// registerMeta registers health, metrics, and the OpenAPI spec route.
func (s *Server) registerMeta(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getMetrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				rec := httptest.NewRecorder()
				MetricsHandler().ServeHTTP(rec, &http.Request{})
				for k, vals := range rec.Header() {
					for _, v := range vals {
						ctx.SetHeader(k, v)
					}
				}
				_, _ = ctx.BodyWriter().Write(rec.Body.Bytes())
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getOpenAPISpec",
		Method:      http.MethodGet,
		Path:        "/api/openapi",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/json")
				if s.humaAPI != nil {
					data, _ := stdjson.Marshal(s.humaAPI.OpenAPI())
					_, _ = ctx.BodyWriter().Write(data)
				} else {
					_, _ = ctx.BodyWriter().Write([]byte(`{}`))
				}
			},
		}, nil
	})
}

// bearerToken extracts an API token from an Authorization header. Both
// "Bearer <token>" and "token <token>" forms are accepted.
func bearerToken(header string) (string, bool) {
	for _, prefix := range []string{"Bearer ", "token "} {
		if strings.HasPrefix(header, prefix) {
			return strings.TrimPrefix(header, prefix), true
		}
	}
	return "", false
}

// run executes one gated action. A bearer Authorization header selects the
// API-token path (organization fixed by the token); otherwise the session
// cookie path applies, with X-Active-Org as the per-request selector.
func run[T any](ctx context.Context, s *Server, creds Credentials, opts auth.Options, action func(context.Context, *auth.AuthContext) (T, error)) (*Envelope[T], error) {
	var res auth.Result[T]
	if tok, ok := bearerToken(creds.Authorization); ok {
		res = auth.RunWithToken(ctx, s.gate, tok, opts, action)
		if res.Error != auth.ErrUnauthorized.Error() {
			s.touch(s.store.TouchAPIToken, auth.HashToken(tok))
		}
	} else {
		res = auth.Run(ctx, s.gate, auth.SessionCredentials{
			SessionToken: creds.SessionToken,
			ActiveOrg:    creds.ActiveOrg,
		}, opts, action)
		if creds.SessionToken != "" && res.Error != auth.ErrUnauthorized.Error() {
			s.touch(s.store.TouchSession, auth.HashToken(creds.SessionToken))
		}
	}
	recordDecision(opts.Operation, res.Success)
	if !res.Success {
		return nil, gateFailure(res.Error)
	}
	return &Envelope[T]{Body: res}, nil
}

// touch updates a credential's last-used timestamp off the request path.
// Fired only when the credential resolved; an Unauthorized result means the
// hash matches no live row.
func (s *Server) touch(fn func(context.Context, string) error, tokenHash string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx, tokenHash); err != nil {
			slog.Warn("credential touch failed", "error", err)
		}
	}()
}

// metricsHumaMiddleware records Prometheus metrics for each huma request using
// the operation path as the route label for clean, low-cardinality metrics.
func metricsHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	route := ctx.Operation().Path
	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	httpRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(ctx.Method(), route).Observe(elapsed.Seconds())
}

// requestLogger logs each HTTP request with method, path, status, and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Info("request", //nolint:gosec // structured logger, not format string
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency", time.Since(start),
		)
	})
}

// realIP extracts the real client IP from X-Real-Ip or X-Forwarded-For headers.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rip := r.Header.Get("X-Real-Ip"); rip != "" {
			r.RemoteAddr = rip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				r.RemoteAddr = strings.TrimSpace(xff[:i])
			} else {
				r.RemoteAddr = xff
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer recovers from panics and returns a 500 Internal Server Error.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				slog.Error("panic recovered", "error", rvr, "method", r.Method, "path", r.URL.Path) //nolint:gosec // structured logger, not format string
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// gzipDecompressor transparently decompresses gzip request bodies.
func gzipDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = stdjson.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "invalid gzip body",
				})
				return
			}
			r.Body = io.NopCloser(gz)
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}
