package server

import (
	"github.com/OFFIS-RIT/regnet/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Similarity and clustering
	apiRoutes.GET("/similarity/:level", routes.GetSimilarityHandler)
	apiRoutes.GET("/clusters/:level", routes.GetClustersHandler)

	// Citation graph
	apiRoutes.GET("/citations", routes.GetCitationsHandler)
	apiRoutes.GET("/citations/:section", routes.GetSectionCitationsHandler)
	apiRoutes.GET("/pagerank", routes.GetPageRankHandler)

	// Network queries
	apiRoutes.GET("/network", routes.GetNetworkHandler)
	apiRoutes.GET("/network/ego/:section", routes.GetEgoNetworkHandler)
	apiRoutes.GET("/network/path", routes.GetShortestPathHandler)
	apiRoutes.GET("/network/authorities", routes.GetAuthoritiesHandler)
	apiRoutes.GET("/network/hubs", routes.GetHubsHandler)
	apiRoutes.GET("/network/stats", routes.GetNetworkStatsHandler)

	// Analysis passes
	apiRoutes.POST("/passes", routes.CreatePassHandler)
	apiRoutes.GET("/passes/:id", routes.GetPassHandler)
	apiRoutes.GET("/passes/:id/report", routes.GetPassReportHandler)
}
