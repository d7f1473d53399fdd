package middleware

import (
	"context"

	"github.com/OFFIS-RIT/regnet/internal/cache"
	"github.com/OFFIS-RIT/regnet/internal/queue"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/store"

	"github.com/labstack/echo/v4"
)

// ReportLinker turns a stored report key into a download link.
type ReportLinker interface {
	DownloadLink(ctx context.Context, key string) (string, error)
}

// App holds the shared dependencies of every request.
type App struct {
	Storage  store.AnalysisStorage
	Engine   *analysis.Engine
	Queue    queue.Publisher
	Reports  ReportLinker
	Networks *cache.NetworkCache
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}

// GetApp returns the App of a request passed through AppContextMiddleware.
func GetApp(c echo.Context) *App {
	if cc, ok := c.(*AppContext); ok {
		return cc.App
	}
	return nil
}
