package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/regnet/internal/cache"
	"github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/network"

	"github.com/labstack/echo/v4"
)

// loadNetwork returns the network for the threshold and max_sections query
// parameters, served from the cache when possible.
func loadNetwork(c echo.Context) (*network.Graph, error) {
	threshold, err := floatQuery(c, "threshold", 0)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid threshold")
	}
	maxSections, err := intQuery(c, "max_sections", 0)
	if err != nil || maxSections < 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid max_sections")
	}

	app := middleware.GetApp(c)
	if threshold <= 0 {
		threshold = app.Engine.Config().Thresholds.Similarity
	}
	params := cache.Params{Threshold: threshold, MaxSections: maxSections}
	return app.Networks.GetOrBuild(c.Request().Context(), params, func(ctx context.Context) (*network.Graph, error) {
		corpus, err := app.Storage.LoadCorpus(ctx)
		if err != nil {
			return nil, err
		}
		return app.Engine.BuildNetwork(ctx, corpus, analysis.NetworkParams{
			Threshold:   threshold,
			MaxSections: maxSections,
		})
	})
}

func networkError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, map[string]any{"error": he.Message})
	}
	return errorResponse(c, err)
}

func GetNetworkHandler(c echo.Context) error {
	g, err := loadNetwork(c)
	if err != nil {
		return networkError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func GetEgoNetworkHandler(c echo.Context) error {
	radius, err := intQuery(c, "radius", network.MinEgoRadius)
	if err != nil {
		return badRequest(c, "Invalid radius")
	}
	g, err := loadNetwork(c)
	if err != nil {
		return networkError(c, err)
	}
	ego, err := g.EgoNetwork(c.Param("section"), radius)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, ego)
}

func GetShortestPathHandler(c echo.Context) error {
	type pathResponse struct {
		Source string   `json:"source"`
		Target string   `json:"target"`
		Found  bool     `json:"found"`
		Hops   int      `json:"hops"`
		Path   []string `json:"path"`
	}

	source, target := c.QueryParam("source"), c.QueryParam("target")
	if source == "" || target == "" {
		return badRequest(c, "source and target are required")
	}
	g, err := loadNetwork(c)
	if err != nil {
		return networkError(c, err)
	}

	res := pathResponse{Source: source, Target: target, Path: []string{}}
	if path := g.ShortestPath(source, target); path != nil {
		res.Found = true
		res.Path = path
		res.Hops = len(path) - 1
	}
	return c.JSON(http.StatusOK, res)
}

func topHandler(c echo.Context, pick func(g *network.Graph, k int) []network.Node) error {
	k, err := intQuery(c, "k", network.DefaultTopK)
	if err != nil || k < 1 {
		return badRequest(c, "Invalid k")
	}
	g, err := loadNetwork(c)
	if err != nil {
		return networkError(c, err)
	}
	return c.JSON(http.StatusOK, pick(g, k))
}

func GetAuthoritiesHandler(c echo.Context) error {
	return topHandler(c, (*network.Graph).TopAuthorities)
}

func GetHubsHandler(c echo.Context) error {
	return topHandler(c, (*network.Graph).TopHubs)
}

func GetNetworkStatsHandler(c echo.Context) error {
	k, err := intQuery(c, "k", network.DefaultTopK)
	if err != nil || k < 1 {
		return badRequest(c, "Invalid k")
	}
	g, err := loadNetwork(c)
	if err != nil {
		return networkError(c, err)
	}
	return c.JSON(http.StatusOK, g.Stats(k))
}
