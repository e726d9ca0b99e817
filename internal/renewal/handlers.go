package renewal

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the scanner to platform operators.
type Handler struct {
	scanner *Scanner
}

// NewHandler creates a new renewal handler.
func NewHandler(scanner *Scanner) *Handler {
	return &Handler{scanner: scanner}
}

// RegisterRoutes sets up renewal routes. The caller applies the role check.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/renewals/due", h.ListDue)
	r.POST("/renewals/scan", h.RunScan)
}

// ListDue handles GET /v1/admin/renewals/due
func (h *Handler) ListDue(c *gin.Context) {
	resp := gin.H{"report": h.scanner.Due()}
	if last, ok := h.scanner.Last(); ok {
		resp["lastScan"] = last.Date
	}
	c.JSON(http.StatusOK, resp)
}

// RunScan handles POST /v1/admin/renewals/scan
func (h *Handler) RunScan(c *gin.Context) {
	report, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "publish_failed",
			"message": err.Error(),
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
