package http

import (
	"net/http"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
)

func (a *api) listPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": a.mesh.Registry.Peers(),
		"peers":     a.mesh.Peers.Snapshot(),
	})
}

func (a *api) connectPeer(c *gin.Context) {
	var req struct {
		ID domain.PeerID `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.mesh.ConnectPeer(c.Request.Context(), req.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"connectivity": a.mesh.Registry.Connectivity()})
}

func (a *api) connectivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connectivity": a.mesh.Registry.Connectivity()})
}

func (a *api) callState(c *gin.Context) {
	c.JSON(http.StatusOK, a.mesh.Orch.Snapshot())
}

// snapshot answers with the call state after a successful action.
func (a *api) snapshot(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.mesh.Orch.Snapshot())
}

func (a *api) startCall(c *gin.Context) {
	var req struct {
		Video     bool   `json:"video"`
		ChannelID string `json:"channelId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = a.mesh.Chat.ActiveChannel()
	}
	a.snapshot(c, a.mesh.Orch.StartCall(a.ctx, req.Video, req.ChannelID))
}

func (a *api) toggleCamera(c *gin.Context) {
	a.snapshot(c, a.mesh.Orch.ToggleCamera(a.ctx))
}

func (a *api) toggleScreen(c *gin.Context) {
	a.snapshot(c, a.mesh.Orch.ToggleScreenShare(a.ctx))
}

func (a *api) acceptCall(c *gin.Context) {
	var req struct {
		Video bool `json:"video"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	a.snapshot(c, a.mesh.Orch.AcceptCall(a.ctx, req.Video))
}

func (a *api) declineCall(c *gin.Context) {
	a.snapshot(c, a.mesh.Orch.DeclineCall())
}

func (a *api) disconnect(c *gin.Context) {
	a.mesh.Orch.Disconnect()
	a.snapshot(c, nil)
}

func (a *api) toggleMute(c *gin.Context) {
	a.mesh.Orch.ToggleMute()
	a.snapshot(c, nil)
}

func (a *api) toggleDeafen(c *gin.Context) {
	a.mesh.Orch.ToggleDeafen()
	a.snapshot(c, nil)
}

func (a *api) setVolume(c *gin.Context) {
	var req struct {
		Volume *float64 `json:"volume" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a.snapshot(c, a.mesh.Orch.SetOutputVolume(*req.Volume))
}

func (a *api) listDevices(c *gin.Context) {
	devs, err := a.devices.EnumerateDevices(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if devs == nil {
		devs = []core.DeviceInfo{}
	}
	c.JSON(http.StatusOK, devs)
}

func (a *api) devicePrefs(c *gin.Context) {
	c.JSON(http.StatusOK, a.mesh.Orch.DevicePreferences())
}

func (a *api) setDevicePrefs(c *gin.Context) {
	var p core.DevicePreferences
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	a.mesh.Orch.SetDevicePreferences(p)
	c.JSON(http.StatusOK, p)
}
