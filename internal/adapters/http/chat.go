package http

import (
	"net/http"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
)

func (a *api) listChannels(c *gin.Context) {
	chans, err := a.mesh.Chat.Channels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if chans == nil {
		chans = []domain.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"active": a.mesh.Chat.ActiveChannel(), "channels": chans})
}

func (a *api) setActive(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a.mesh.Chat.SetActiveChannel(req.ID)
	c.JSON(http.StatusOK, gin.H{"active": req.ID})
}

func (a *api) listMessages(c *gin.Context) {
	msgs, err := a.mesh.Chat.Messages(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (a *api) sendMessage(c *gin.Context) {
	var req struct {
		Content     string              `json:"content"`
		ReplyToID   string              `json:"replyToId"`
		Attachments []domain.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := a.mesh.Chat.SendMessage(c.Request.Context(), req.Content, req.ReplyToID, req.Attachments)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (a *api) editMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.mesh.Chat.EditMessage(c.Request.Context(), c.Param("channel"), c.Param("id"), req.Content); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) deleteMessage(c *gin.Context) {
	if err := a.mesh.Chat.DeleteMessage(c.Request.Context(), c.Param("channel"), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) react(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.mesh.Chat.ToggleReaction(c.Request.Context(), c.Param("channel"), c.Param("id"), req.Emoji); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) openDM(c *gin.Context) {
	var req struct {
		Peer domain.PeerID `json:"peer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ch, err := a.mesh.Chat.OpenDM(c.Request.Context(), req.Peer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (a *api) deleteChat(c *gin.Context) {
	if err := a.mesh.Chat.DeleteChat(c.Request.Context(), c.Param("channel")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
