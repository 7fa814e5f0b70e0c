package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"spawnhub/internal/authz"
	"spawnhub/internal/fault"
	"spawnhub/internal/lifecycle"
	"spawnhub/internal/model"
	"spawnhub/internal/registry"
)

// ServerHandler drives spawn/stop for default and named single-user servers.
type ServerHandler struct {
	Registry   *registry.Registry
	Controller *lifecycle.Controller
	Gate       *authz.Gate
}

func sessionModel(sess model.Session) gin.H {
	return gin.H{
		"user":  sess.AccountName,
		"name":  sess.Label,
		"state": string(sess.State),
	}
}

func (h *ServerHandler) spawn(c *gin.Context, label string, options map[string]any) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	name := h.Registry.Normalize(c.Param("name"))
	account, err := h.Gate.Target(caller, name, authz.SelfOrAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	sess, err := h.Controller.Spawn(c.Request.Context(), account, label, options)
	if err != nil {
		respondError(c, err)
		return
	}

	// 201 when the server came up synchronously, 202 while the start is
	// still in flight
	status := http.StatusAccepted
	if sess.State == model.StateRunning {
		status = http.StatusCreated
	}
	c.JSON(status, sessionModel(sess))
}

func (h *ServerHandler) stop(c *gin.Context, label string) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	name := h.Registry.Normalize(c.Param("name"))
	account, err := h.Gate.Target(caller, name, authz.SelfOrAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	sess, err := h.Controller.Stop(c.Request.Context(), account, label)
	if err != nil {
		respondError(c, err)
		return
	}

	if sess.State == model.StateStopped {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusAccepted, sessionModel(sess))
}

// Spawn starts the default server. The request body, if any, is passed to the
// spawner as opaque options.
func (h *ServerHandler) Spawn(c *gin.Context) {
	options := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&options); err != nil {
			respondError(c, fault.New(fault.InvalidArgument, "invalid request body"))
			return
		}
	}
	h.spawn(c, "", options)
}

// Stop shuts the default server down.
func (h *ServerHandler) Stop(c *gin.Context) {
	h.stop(c, "")
}

type namedServerBody struct {
	Name    string         `json:"name"`
	Options map[string]any `json:"options"`
}

// SpawnNamed starts a named server; the label comes from the request body.
func (h *ServerHandler) SpawnNamed(c *gin.Context) {
	var body namedServerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fault.New(fault.InvalidArgument, "invalid request body"))
		return
	}
	if body.Name == "" {
		respondError(c, fault.New(fault.InvalidArgument, "server name is required"))
		return
	}
	options := body.Options
	if options == nil {
		options = map[string]any{}
	}
	h.spawn(c, body.Name, options)
}

// StopNamed shuts a named server down; the label comes from the URL.
func (h *ServerHandler) StopNamed(c *gin.Context) {
	label := c.Param("label")
	if label == "" {
		respondError(c, fault.New(fault.InvalidArgument, "server name is required"))
		return
	}
	h.stop(c, label)
}
