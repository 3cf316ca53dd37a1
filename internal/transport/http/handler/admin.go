package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-analyst/internal/transport/http/response"
)

type RBACReloader interface {
	Reload(ctx context.Context) error
}

type TableReloader interface {
	Reload()
}

type AdminHandler struct {
	rbac   RBACReloader
	tables TableReloader
}

func NewAdminHandler(rbac RBACReloader, tables TableReloader) *AdminHandler {
	return &AdminHandler{rbac: rbac, tables: tables}
}

// ReloadRBAC swaps in a fresh access snapshot. On failure the previous
// snapshot keeps serving.
func (h *AdminHandler) ReloadRBAC(c *gin.Context) {
	if err := h.rbac.Reload(c.Request.Context()); err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeReloadFailed, "rbac reload failed")
		return
	}
	response.OK(c, gin.H{"reloaded": "rbac"})
}

// ReloadTables drops the cached table schemas.
func (h *AdminHandler) ReloadTables(c *gin.Context) {
	h.tables.Reload()
	response.OK(c, gin.H{"reloaded": "tables"})
}
