package handlers

import (
	"net/http"

	"cell-tester/internal/analysis"
	"cell-tester/internal/api/models"
	"cell-tester/internal/model"
	"cell-tester/internal/store"

	"github.com/gin-gonic/gin"
)

// ResultsHandler serves stored cell results
type ResultsHandler struct {
	store store.Store
}

// NewResultsHandler creates a results handler
func NewResultsHandler(st store.Store) *ResultsHandler {
	return &ResultsHandler{store: st}
}

// ListResults handles GET /api/v1/results
func (h *ResultsHandler) ListResults(c *gin.Context) {
	all, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, models.ResultsResponse{Results: convertResults(all), Count: len(all)})
}

// GetResult handles GET /api/v1/results/:serial
func (h *ResultsHandler) GetResult(c *gin.Context) {
	id := model.CellIdentifier(c.Param("serial"))
	r, found, err := h.store.Lookup(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !found {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "no result for cell "+id.String())
		return
	}
	c.JSON(http.StatusOK, models.NewCellResult(*r))
}

// DeleteResult handles DELETE /api/v1/results/:serial
func (h *ResultsHandler) DeleteResult(c *gin.Context) {
	id := model.CellIdentifier(c.Param("serial"))
	removed, err := h.store.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !removed {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "no result for cell "+id.String())
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats handles GET /api/v1/results/stats
func (h *ResultsHandler) Stats(c *gin.Context) {
	all, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, models.StatsResponse{BatchSummary: analysis.Summarize(all)})
}

// Rank handles GET /api/v1/results/rank
func (h *ResultsHandler) Rank(c *gin.Context) {
	var req models.RankRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	metric, err := analysis.ParseMetric(req.By)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_METRIC", err.Error())
		return
	}
	all, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	resp := models.RankResponse{By: string(metric)}
	if req.GroupSize > 0 {
		groups, rest, err := analysis.MatchGroups(all, metric, req.GroupSize)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		for _, g := range groups {
			resp.Groups = append(resp.Groups, models.GroupResult{Cells: convertResults(g.Cells), Spread: g.Spread})
		}
		resp.Leftover = convertResults(rest)
		c.JSON(http.StatusOK, resp)
		return
	}

	ranked := analysis.Rank(all, metric)
	if req.Limit > 0 && req.Limit < len(ranked) {
		ranked = ranked[:req.Limit]
	}
	resp.Ranked = convertResults(ranked)
	c.JSON(http.StatusOK, resp)
}

func convertResults(rs []model.CellTestResult) []models.CellResult {
	out := make([]models.CellResult, 0, len(rs))
	for _, r := range rs {
		out = append(out, models.NewCellResult(r))
	}
	return out
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: msg,
		},
	})
}
