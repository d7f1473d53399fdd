package routes

import (
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/pkg/store"

	"github.com/labstack/echo/v4"
)

func GetCitationsHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	corpus, err := app.Storage.LoadCorpus(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, app.Engine.BuildCitationGraph(corpus))
}

// GetSectionCitationsHandler lists what a section cites and what cites it.
func GetSectionCitationsHandler(c echo.Context) error {
	section := c.Param("section")
	app := middleware.GetApp(c)
	corpus, err := app.Storage.LoadCorpus(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	sn, ok := app.Engine.BuildCitationGraph(corpus).Neighbourhood(section)
	if !ok {
		return errorResponse(c, fmt.Errorf("section %s: %w", section, store.ErrNotFound))
	}
	return c.JSON(http.StatusOK, sn)
}

func GetPageRankHandler(c echo.Context) error {
	damping, err := floatQuery(c, "damping", 0)
	if err != nil {
		return badRequest(c, "Invalid damping")
	}

	app := middleware.GetApp(c)
	corpus, err := app.Storage.LoadCorpus(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	res, err := app.Engine.CalculatePageRank(app.Engine.BuildCitationGraph(corpus), damping)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
