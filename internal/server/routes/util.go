package routes

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/store"

	"github.com/labstack/echo/v4"
)

// errorResponse maps domain errors onto status codes. Unknown errors are
// logged and hidden behind a generic message.
func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidLevel), errors.Is(err, analysis.ErrInvalidKind):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, network.ErrNodeNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		logger.Error("[Server] request failed", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func levelParam(c echo.Context) (common.Level, error) {
	return common.ParseLevel(c.Param("level"))
}

// intQuery reads an integer query parameter, falling back to def when it is
// absent.
func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// floatQuery reads a float query parameter in [0,1], falling back to def
// when it is absent.
func floatQuery(c echo.Context, name string, def float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, errors.New(name + " outside [0,1]")
	}
	return v, nil
}
