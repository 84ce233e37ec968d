package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/tkwok/triggerd/internal/transport/http/handler"
	"github.com/tkwok/triggerd/internal/transport/http/middleware"
)

// NewRouter wires the control-plane routes. An empty jwtKey disables the
// bearer check, which is how local dashboards run.
func NewRouter(logger *slog.Logger, jobHandler *handler.JobHandler, workerHandler *handler.WorkerHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	var authMW []gin.HandlerFunc
	if len(jwtKey) > 0 {
		authMW = append(authMW, middleware.Auth(jwtKey))
	}

	jobs := r.Group("/jobs", authMW...)
	jobs.GET("", jobHandler.List)
	jobs.POST("", jobHandler.Create)
	jobs.POST("/:id/toggle", jobHandler.Toggle)
	jobs.POST("/:id/run", jobHandler.RunNow)
	jobs.DELETE("/:id", jobHandler.Delete)
	jobs.GET("/:id/logs", jobHandler.ListLogs)

	workers := r.Group("/workers", authMW...)
	workers.GET("", workerHandler.List)

	return r
}
