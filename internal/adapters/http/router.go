package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/mesh"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/keystore"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps are what the local control API drives.
type Deps struct {
	Mesh     *mesh.Mesh
	Keys     *keystore.Store
	Devices  core.MediaDevices
	Gatherer prometheus.Gatherer
}

type api struct {
	ctx     context.Context
	mesh    *mesh.Mesh
	keys    *keystore.Store
	devices core.MediaDevices
}

// SetupRouter builds the loopback API an external UI talks to.
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteStrictMode})
	r.Use(sessions.Sessions("MeshSession", store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	a := &api{ctx: ctx, mesh: d.Mesh, keys: d.Keys, devices: d.Devices}
	g := r.Group("/api")

	g.GET("/me", a.me)
	g.PATCH("/me", a.updateProfile)
	auth := g.Group("/auth")
	auth.POST("/register", a.register)
	auth.POST("/login", a.login)
	auth.POST("/logout", a.logout)

	g.GET("/peers", a.listPeers)
	g.POST("/peers", a.connectPeer)
	g.GET("/connectivity", a.connectivity)

	call := g.Group("/call")
	call.GET("", a.callState)
	call.POST("/start", a.startCall)
	call.POST("/camera", a.toggleCamera)
	call.POST("/screen", a.toggleScreen)
	call.POST("/accept", a.acceptCall)
	call.POST("/decline", a.declineCall)
	call.POST("/disconnect", a.disconnect)
	call.POST("/mute", a.toggleMute)
	call.POST("/deafen", a.toggleDeafen)
	call.PUT("/volume", a.setVolume)

	g.GET("/devices", a.listDevices)
	g.GET("/devices/prefs", a.devicePrefs)
	g.PUT("/devices/prefs", a.setDevicePrefs)

	g.GET("/channels", a.listChannels)
	g.PUT("/channels/active", a.setActive)
	g.DELETE("/channels/:channel", a.deleteChat)
	g.GET("/channels/:channel/messages", a.listMessages)
	g.PATCH("/channels/:channel/messages/:id", a.editMessage)
	g.DELETE("/channels/:channel/messages/:id", a.deleteMessage)
	g.POST("/channels/:channel/messages/:id/reactions", a.react)
	g.POST("/messages", a.sendMessage)
	g.POST("/dm", a.openDM)

	g.GET("/ws/events", a.events)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

func status(err error) int {
	switch {
	case errors.Is(err, orch.ErrBusy),
		errors.Is(err, orch.ErrInvalidTransition),
		errors.Is(err, orch.ErrCancelled),
		errors.Is(err, keystore.ErrUserExists),
		errors.Is(err, app.ErrNoActiveChannel):
		return http.StatusConflict
	case errors.Is(err, orch.ErrNoIncomingCall),
		errors.Is(err, app.ErrMessageNotFound),
		errors.Is(err, app.ErrChannelNotFound),
		errors.Is(err, keystore.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, keystore.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, orch.ErrMediaUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, orch.ErrChannelRequired),
		errors.Is(err, orch.ErrInvalidVolume),
		errors.Is(err, app.ErrSelfDM),
		errors.Is(err, mesh.ErrSelfConnect),
		errors.Is(err, keystore.ErrPasswordTooShort),
		errors.Is(err, domain.ErrPeerIDEmpty),
		errors.Is(err, domain.ErrPeerIDTooLong),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrChannelRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Str("path", c.FullPath()).Err(err).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
