package http

import (
	"net/http"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionUser = "user"

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *api) me(c *gin.Context) {
	user, _ := sessions.Default(c).Get(sessionUser).(string)
	c.JSON(http.StatusOK, gin.H{
		"id":       a.mesh.ID(),
		"profile":  a.mesh.Profile(),
		"loggedIn": user != "",
	})
}

// adopt makes a stored profile the live one, keeping the mesh id.
func (a *api) adopt(p domain.Profile) (domain.Profile, error) {
	var presence *domain.PresenceStatus
	if p.Status != "" {
		presence = &p.Status
	}
	return a.mesh.UpdateProfile(domain.ProfileUpdate{
		Username:    &p.Username,
		AvatarURL:   &p.AvatarURL,
		AboutMe:     &p.AboutMe,
		BannerColor: &p.BannerColor,
		Status:      presence,
	})
}

func (a *api) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	stored, err := a.keys.Register(a.mesh.ID(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	prof, err := a.adopt(stored)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.remember(c, prof.Username); err != nil {
		fail(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", prof.Username).Msg("registered")
	c.JSON(http.StatusCreated, prof)
}

func (a *api) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	stored, err := a.keys.Login(req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	prof, err := a.adopt(stored)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.remember(c, prof.Username); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prof)
}

func (a *api) logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	if err := s.Save(); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) remember(c *gin.Context, username string) error {
	s := sessions.Default(c)
	s.Set(sessionUser, username)
	return s.Save()
}

// updateProfile changes the live profile and, when logged in, the stored one.
func (a *api) updateProfile(c *gin.Context) {
	var u domain.ProfileUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	if user, _ := sessions.Default(c).Get(sessionUser).(string); user != "" {
		stored, err := a.keys.UpdateProfile(user, u)
		if err != nil {
			fail(c, err)
			return
		}
		if err := a.remember(c, stored.Username); err != nil {
			fail(c, err)
			return
		}
	}
	prof, err := a.mesh.UpdateProfile(u)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prof)
}
