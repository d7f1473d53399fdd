package routes

import (
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/regnet/internal/queue"
	"github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/store"

	"github.com/labstack/echo/v4"
)

// CreatePassHandler queues an analysis pass and returns its pending progress.
func CreatePassHandler(c echo.Context) error {
	type createPassBody struct {
		Kind        string  `json:"kind" validate:"required,oneof=similarity cluster citation network full"`
		Level       string  `json:"level"`
		K           int     `json:"k" validate:"min=0"`
		Threshold   float64 `json:"threshold" validate:"min=0,max=1"`
		MaxSections int     `json:"max_sections" validate:"min=0"`
		Damping     float64 `json:"damping" validate:"min=0,max=1"`
		Explain     int     `json:"explain" validate:"min=0,max=50"`
	}

	data := new(createPassBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	req := analysis.PassRequest{
		Kind:        analysis.Kind(data.Kind),
		K:           data.K,
		Threshold:   data.Threshold,
		MaxSections: data.MaxSections,
		Damping:     data.Damping,
		Explain:     data.Explain,
	}
	if data.Level != "" {
		level, err := common.ParseLevel(data.Level)
		if err != nil {
			return errorResponse(c, err)
		}
		req.Level = level
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	app := middleware.GetApp(c)
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
	}
	progress, err := queue.EnqueuePass(c.Request().Context(), app.Queue, app.Storage, req, queue.TriggerAPI)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, progress)
}

func GetPassHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	progress, err := app.Storage.GetProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// GetPassReportHandler returns a time-limited download link for the report
// of a finished pass.
func GetPassReportHandler(c echo.Context) error {
	type reportResponse struct {
		ID  string `json:"id"`
		Key string `json:"key"`
		URL string `json:"url"`
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	app := middleware.GetApp(c)

	key, err := app.Storage.GetReportKey(ctx, id)
	if err != nil {
		return errorResponse(c, err)
	}
	if key == "" {
		return errorResponse(c, fmt.Errorf("report of pass %s: %w", id, store.ErrNotFound))
	}
	if app.Reports == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Report storage unavailable"})
	}
	url, err := app.Reports.DownloadLink(ctx, key)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, reportResponse{ID: id, Key: key, URL: url})
}

func GetClustersHandler(c echo.Context) error {
	level, err := levelParam(c)
	if err != nil {
		return errorResponse(c, err)
	}
	clusters, err := middleware.GetApp(c).Storage.GetClusters(c.Request().Context(), level)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, clusters)
}
