// Package api exposes the station over HTTP: results, instrument identity and remote test runs.
package api

import (
	"context"
	"net/http"
	"strings"

	"cell-tester/internal/api/handlers"
	"cell-tester/internal/api/middleware"
	"cell-tester/internal/api/models"
	"cell-tester/internal/instrument"
	"cell-tester/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Port           instrument.Port
	Runner         handlers.Runner
	Store          store.Store
	Driver         string
	Address        string
	ProfileDir     string
	AllowedOrigins []string
	Logger         *zap.Logger
	// Abort cancels a test in progress, e.g. on a second interrupt.
	Abort context.Context
}

// NewRouter builds the gin engine with middleware and all /api/v1 routes.
func NewRouter(d Deps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(middleware.ErrorHandler(log))
	router.Use(middleware.CORS(d.AllowedOrigins))
	router.Use(middleware.Logger(log.Named("http")))

	bench := handlers.NewBenchHandler(handlers.BenchConfig{
		Port:    d.Port,
		Runner:  d.Runner,
		Store:   d.Store,
		Driver:  d.Driver,
		Address: d.Address,
		Logger:  log.Named("bench"),
		Abort:   d.Abort,
	})
	results := handlers.NewResultsHandler(d.Store)
	profiles := handlers.NewProfileHandler(d.ProfileDir, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		api.GET("/instrument", bench.Instrument)
		api.POST("/tests", bench.RunTest)
		api.GET("/tests/:id", bench.GetRun)

		api.GET("/results", results.ListResults)
		api.GET("/results/stats", results.Stats)
		api.GET("/results/rank", results.Rank)
		api.GET("/results/:serial", results.GetResult)
		api.DELETE("/results/:serial", results.DeleteResult)

		api.GET("/profiles", profiles.ListProfiles)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "NOT_FOUND", Message: "Not found"},
			})
			return
		}
		c.Status(http.StatusNotFound)
	})

	return router
}
