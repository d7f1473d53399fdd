package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"

	"github.com/labstack/echo/v4"
)

const (
	defaultSimilarityLimit = 100
	maxSimilarityLimit     = 1000
)

// GetSimilarityHandler compares every embedded entity of a level. With
// source=stored it returns the edges saved by the last similarity pass
// instead of computing them.
func GetSimilarityHandler(c echo.Context) error {
	type similarityResponse struct {
		Level   common.Level            `json:"level"`
		Source  string                  `json:"source"`
		Summary *similarity.Summary     `json:"summary,omitempty"`
		Edges   []common.SimilarityEdge `json:"edges"`
	}

	level, err := levelParam(c)
	if err != nil {
		return errorResponse(c, err)
	}
	limit, err := intQuery(c, "limit", defaultSimilarityLimit)
	if err != nil || limit < 1 {
		return badRequest(c, "Invalid limit")
	}
	limit = min(limit, maxSimilarityLimit)

	ctx := c.Request().Context()
	app := middleware.GetApp(c)

	if c.QueryParam("source") == "stored" {
		edges, err := app.Storage.GetSimilarity(ctx, level, limit)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, similarityResponse{Level: level, Source: "stored", Edges: edges})
	}

	corpus, err := app.Storage.LoadCorpus(ctx)
	if err != nil {
		return errorResponse(c, err)
	}
	res, err := app.Engine.AnalyzeSimilarity(ctx, corpus, level)
	if err != nil {
		return errorResponse(c, err)
	}
	edges := res.Edges
	if len(edges) > limit {
		edges = edges[:limit]
	}
	if edges == nil {
		edges = []common.SimilarityEdge{}
	}
	return c.JSON(http.StatusOK, similarityResponse{
		Level:   level,
		Source:  "computed",
		Summary: &res.Summary,
		Edges:   edges,
	})
}
