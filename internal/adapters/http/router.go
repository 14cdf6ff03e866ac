package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName   = "MeetSessions"
	credentialKey = "credential"
	userIDKey     = "user_id"
)

// CredentialMiddleware resolves the caller from a bearer header or, failing
// that, from the credential stored in the cookie session.
func CredentialMiddleware(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearer(c.GetHeader("Authorization"))
		if credential == "" {
			if v, ok := sessions.Default(c).Get(credentialKey).(string); ok {
				credential = v
			}
		}
		if credential == "" {
			abortError(c, http.StatusUnauthorized, orch.ReasonNotAuthenticated)
			return
		}
		userID, err := o.Verify(c.Request.Context(), credential)
		if err != nil {
			abortError(c, http.StatusUnauthorized, orch.ReasonOf(err))
			return
		}
		c.Set(userIDKey, string(userID))
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, limiter *signal.RoomRateLimiter, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, sessions will not survive a restart")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{orch: o, limiter: limiter, ice: iceServers(cfg)}

	r.GET("/healthz", h.health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	ctrl := signal.NewSignalWSController(o, limiter, signal.Settings{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.POST("/session", h.login)
	api.DELETE("/session", h.logout)
	api.GET("/ice-servers", h.listICEServers)

	meetings := api.Group("/meetings", CredentialMiddleware(o))
	meetings.GET("", h.listMeetings)
	meetings.POST("", h.createMeeting)
	meetings.GET("/:id", h.getMeeting)
	meetings.POST("/:id/join", h.joinMeeting)
	meetings.POST("/:id/leave", h.leaveMeeting)

	log.Info().Str("module", "adapters.http").Int("ice_servers", len(h.ice)).Msg("router setup")
	return r
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.orch.Directory.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("directory health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "directory": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
