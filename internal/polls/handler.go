package polls

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classpulse/backend/pkg/response"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// Handler serves the read-only poll history API.
type Handler struct {
	repo *Repository
}

// NewHandler creates a polls handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /api/polls: completed polls, most recent first.
func (h *Handler) List(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	polls, err := h.repo.ListCompleted(c.Request.Context(), limit)
	if err != nil {
		response.Internal(c, "failed to fetch polls")
		return
	}
	response.OK(c, polls)
}

// GetByID handles GET /api/polls/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to fetch poll")
		return
	}
	if p == nil {
		response.NotFound(c, "poll not found")
		return
	}
	response.OK(c, p)
}
