// Package httpapi exposes sessions, class locations and attendance marking
// over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/session"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configure the HTTP surface.
type Options struct {
	Env             string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	CORSOrigins     []string
	RateLimitPerMin int
}

// Server holds the handlers' dependencies.
type Server struct {
	sessions   *session.Lifecycle
	attendance *attendance.Service
	checks     map[string]HealthCheck
	opts       Options
}

// New creates a server. checks feed /healthz and may be empty.
func New(sessions *session.Lifecycle, att *attendance.Service, checks map[string]HealthCheck, opts Options) *Server {
	return &Server{sessions: sessions, attendance: att, checks: checks, opts: opts}
}

var registerTagName sync.Once

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	registerTagName.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(s.opts.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	if s.opts.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewSimpleTokenBucket(s.opts.RateLimitPerMin, s.opts.RateLimitPerMin).GinMiddleware(httpmiddleware.ClientIP))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	if s.opts.Env == "dev" {
		r.POST("/v1/dev/token", s.devToken)
	}

	v1 := r.Group("/v1", auth.Bearer(s.opts.JWTSigningKey, s.opts.JWTIssuer))
	staff := auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin)

	v1.POST("/sessions", staff, s.createSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.POST("/sessions/:id/start", staff, s.startSession)
	v1.POST("/sessions/:id/complete", staff, s.completeSession)
	v1.PUT("/sessions/:id/teacher-location", staff, s.updateTeacherLocation)
	v1.GET("/sessions/:id/records", staff, s.listRecords)
	v1.GET("/sessions/:id/proxy-review", staff, s.proxyReview)
	v1.GET("/sessions/:id/attempts/:student", staff, s.listAttempts)

	// Bursts of 5, then 12 attempts a minute per student.
	perStudent := httpmiddleware.NewSimpleTokenBucket(5, 12)
	v1.POST("/sessions/:id/attendance", auth.RequireRole(auth.RoleStudent),
		perStudent.GinMiddleware(tokenSubject), s.markAttendance)

	v1.PUT("/classes/:id/location", auth.RequireRole(auth.RoleAdmin), s.setClassLocation)
	v1.GET("/classes/:id", s.getClass)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func tokenSubject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			code = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(code, body)
}
