package handler

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"spawnhub/internal/auth"
	"spawnhub/internal/authz"
	"spawnhub/internal/fault"
	"spawnhub/internal/lifecycle"
	"spawnhub/internal/middleware"
	"spawnhub/internal/model"
	"spawnhub/internal/provision"
	"spawnhub/internal/registry"
)

type UserHandler struct {
	Registry           *registry.Registry
	Provisioner        *provision.Provisioner
	Controller         *lifecycle.Controller
	Gate               *authz.Gate
	TokenConfig        auth.TokenConfig
	TokenLimiter       *middleware.RateLimiter
	AdminAccessEnabled bool
}

func respondError(c *gin.Context, err error) {
	kind := fault.KindOf(err)
	c.JSON(fault.HTTPStatus(kind), gin.H{"kind": string(kind), "error": err.Error()})
}

func callerOrAbort(c *gin.Context) (authz.Caller, bool) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
	}
	return caller, ok
}

func userModel(account model.Account, sessions []model.Session) gin.H {
	var pending any
	var server any
	servers := gin.H{}
	for _, s := range sessions {
		if s.Label == "" {
			if s.State.Pending() {
				pending = string(s.State)
			}
			if s.State == model.StateRunning {
				server = "/user/" + account.Name
			}
			continue
		}
		servers[s.Label] = gin.H{"name": s.Label, "state": string(s.State)}
	}
	return gin.H{
		"name":    account.Name,
		"admin":   account.Admin,
		"created": account.CreatedAt,
		"pending": pending,
		"server":  server,
		"servers": servers,
	}
}

func (h *UserHandler) model(account model.Account) gin.H {
	return userModel(account, h.Controller.Sessions(account.Name))
}

// Self is the whoami endpoint for the authenticated caller.
func (h *UserHandler) Self(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	account, found := h.Registry.Find(caller.Name)
	if !found {
		respondError(c, fault.New(fault.NotFound, "no such user %s", caller.Name))
		return
	}
	c.JSON(http.StatusOK, h.model(account))
}

func (h *UserHandler) List(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}

	accounts := h.Registry.List()
	resp := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, h.model(a))
	}
	c.JSON(http.StatusOK, resp)
}

type createManyBody struct {
	Usernames []string `json:"usernames"`
	Admin     bool     `json:"admin"`
}

// createOne commits the account and provisions its resources, rolling the
// account back when provisioning fails so no orphaned identity remains.
func (h *UserHandler) createOne(c *gin.Context, name string, admin bool) (model.Account, error) {
	account, err := h.Registry.Create(c.Request.Context(), name, admin)
	if err != nil {
		return model.Account{}, err
	}
	if _, err := h.Provisioner.Provision(account); err != nil {
		h.Registry.Rollback(c.Request.Context(), account)
		return model.Account{}, err
	}
	return account, nil
}

// CreateMany is the admin batch-create endpoint. All names are validated
// before anything is created; invalid names are aggregated into one error.
// Names that already exist (in the store or the OS namespace) are skipped
// silently, and the remaining names are created independently.
func (h *UserHandler) CreateMany(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}

	var body createManyBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Usernames) == 0 {
		respondError(c, fault.New(fault.InvalidArgument, "must specify at least one user to create"))
		return
	}

	var toCreate []string
	var invalid []string
	for _, raw := range body.Usernames {
		name, err := h.Registry.CheckName(raw)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		if h.Registry.Reserved(name) {
			continue
		}
		if _, found := h.Registry.Find(name); found {
			log.Printf("users: %s already exists, skipping", name)
			continue
		}
		toCreate = append(toCreate, name)
	}

	if len(invalid) > 0 {
		if len(invalid) == 1 {
			respondError(c, fault.New(fault.InvalidArgument, "invalid username: %s", invalid[0]))
		} else {
			respondError(c, fault.New(fault.InvalidArgument, "invalid usernames: %s", strings.Join(invalid, ", ")))
		}
		return
	}
	if len(toCreate) == 0 {
		respondError(c, fault.New(fault.InvalidArgument, "all %d users already exist", len(body.Usernames)))
		return
	}

	var created []gin.H
	var failures []string
	for _, name := range toCreate {
		account, err := h.createOne(c, name, body.Admin)
		if err != nil {
			log.Printf("users: failed to create %s: %v", name, err)
			failures = append(failures, name+": "+err.Error())
			continue
		}
		created = append(created, h.model(account))
	}
	if len(failures) > 0 {
		respondError(c, fault.New(fault.Upstream, "failed to create users: %s", strings.Join(failures, "; ")))
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *UserHandler) Get(c *gin.Context) {
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
	c.JSON(http.StatusOK, h.model(account))
}

type createUserBody struct {
	Admin bool `json:"admin"`
}

func (h *UserHandler) Create(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}

	name := h.Registry.Normalize(c.Param("name"))
	if _, found := h.Registry.Find(name); found {
		respondError(c, fault.New(fault.Conflict, "user %s already exists", name))
		return
	}

	var body createUserBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, fault.New(fault.InvalidArgument, "invalid request body"))
			return
		}
	}

	account, err := h.createOne(c, name, body.Admin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.model(account))
}

type patchUserBody struct {
	Name  *string `json:"name"`
	Admin *bool   `json:"admin"`
	Home  *string `json:"home"`
	Data  *string `json:"data"`
	Shell *string `json:"shell"`
}

// Patch edits an account: rename, admin flag, and provisioning record fields.
// Provisioning edits may partially apply; that surfaces as a 500 with the
// applied steps named so the operator can reconcile.
func (h *UserHandler) Patch(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}

	name := h.Registry.Normalize(c.Param("name"))
	account, found := h.Registry.Find(name)
	if !found {
		respondError(c, fault.New(fault.NotFound, "no such user %s", name))
		return
	}

	var body patchUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fault.New(fault.InvalidArgument, "invalid request body"))
		return
	}

	if body.Name != nil {
		renamed, err := h.Registry.Rename(account, *body.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		account = renamed
	}
	if body.Admin != nil {
		updated, err := h.Registry.SetAdmin(account, *body.Admin)
		if err != nil {
			respondError(c, err)
			return
		}
		account = updated
	}

	if body.Home != nil || body.Data != nil || body.Shell != nil {
		want := model.ProvisioningRecord{AccountName: account.Name}
		if body.Home != nil {
			want.Home = *body.Home
		}
		if body.Data != nil {
			want.DataDir = *body.Data
		}
		if body.Shell != nil {
			want.Shell = *body.Shell
		}
		if _, err := h.Provisioner.Edit(c.Request.Context(), account, want); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, h.model(account))
}

// Delete removes an account. Every owned session must be Stopped: a Running
// default or named server is stopped first; a server still shutting down
// blocks the delete.
func (h *UserHandler) Delete(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}

	name := h.Registry.Normalize(c.Param("name"))
	account, found := h.Registry.Find(name)
	if !found {
		respondError(c, fault.New(fault.NotFound, "no such user %s", name))
		return
	}
	if account.Name == caller.Name {
		respondError(c, fault.New(fault.InvalidArgument, "cannot delete yourself"))
		return
	}

	for _, sess := range h.Controller.Sessions(account.Name) {
		switch sess.State {
		case model.StateStopPending:
			respondError(c, fault.New(fault.InvalidState, "%s's server is in the process of stopping, please wait", name))
			return
		case model.StateSpawnPending:
			respondError(c, fault.New(fault.Conflict, "%s's server is being spawned, please wait", name))
			return
		case model.StateRunning:
			result, err := h.Controller.Stop(c.Request.Context(), account, sess.Label)
			if err != nil {
				respondError(c, err)
				return
			}
			if result.State == model.StateStopPending {
				respondError(c, fault.New(fault.InvalidState, "%s's server is in the process of stopping, please wait", name))
				return
			}
		}
	}

	if err := h.Registry.Delete(c.Request.Context(), account); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Pwd returns the provisioning record bindings for an account.
func (h *UserHandler) Pwd(c *gin.Context) {
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

	rec, found := h.Registry.Record(account.Name)
	if !found {
		respondError(c, fault.New(fault.NotFound, "user %s has no provisioning record", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  rec.AccountName,
		"home":  rec.Home,
		"dir":   rec.DataDir,
		"shell": rec.Shell,
	})
}

// PwdNoop mirrors the legacy POST on the pwd endpoint: permission check only.
func (h *UserHandler) PwdNoop(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// AdminAccess is deprecated and kept for compatibility: it validates
// permissions and the target server's state but changes nothing.
func (h *UserHandler) AdminAccess(c *gin.Context) {
	log.Printf("users: deprecated admin-access endpoint called")
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.Gate.Authorize(caller, "", authz.AdminOnly); err != nil {
		respondError(c, err)
		return
	}
	if !h.AdminAccessEnabled {
		respondError(c, fault.New(fault.Forbidden, "admin access to user servers disabled"))
		return
	}

	name := h.Registry.Normalize(c.Param("name"))
	account, found := h.Registry.Find(name)
	if !found {
		respondError(c, fault.New(fault.NotFound, "no such user %s", name))
		return
	}
	if h.Controller.StateOf(account.Name, "") != model.StateRunning {
		respondError(c, fault.New(fault.InvalidState, "%s's server is not running", name))
		return
	}
	c.Status(http.StatusOK)
}

// CreateToken mints an API token for the target account.
func (h *UserHandler) CreateToken(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if h.TokenLimiter != nil && !h.TokenLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	name := h.Registry.Normalize(c.Param("name"))
	account, err := h.Gate.Target(caller, name, authz.SelfOrAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.CreateToken(account.Name, account.Admin, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}
