package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sqlagent/internal/agent"
	"sqlagent/internal/config"
	"sqlagent/internal/models"
	"sqlagent/internal/schema"
	"sqlagent/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	service service.QueryService
	schemas *schema.Manager
	logger  *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, queryService service.QueryService, schemas *schema.Manager, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	server := &Server{
		echo:    e,
		service: queryService,
		schemas: schemas,
		logger:  logger,
	}

	server.setupRoutes()
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API routes
	api := s.echo.Group("/api/v1")
	{
		queries := api.Group("/queries")
		{
			queries.POST("", s.submitQuery)
			queries.GET("", s.listQueries)
			queries.GET("/:id", s.getQuery)
			queries.DELETE("/:id", s.deleteQuery)
			queries.POST("/:id/cancel", s.cancelQuery)
			queries.GET("/:id/result.xlsx", s.downloadResult)
			queries.GET("/:id/result-url", s.getResultURL)
			queries.GET("/:id/summary", s.getSummary)
		}

		api.GET("/tables", s.listTables)

		api.GET("/artifacts", s.listArtifacts)
		api.GET("/artifacts/:name", s.getArtifact)
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "sqlagent",
	})
}

// submitQuery accepts a natural-language question for processing
func (s *Server) submitQuery(c echo.Context) error {
	var req struct {
		Question string `json:"question"`
		Table    string `json:"table,omitempty"`
		Wait     bool   `json:"wait,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Error("Failed to bind request")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}

	if req.Question == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Question is required",
		})
	}

	var (
		run *models.QueryRun
		err error
	)
	if req.Wait {
		run, err = s.service.Ask(c.Request().Context(), req.Question, req.Table)
	} else {
		run, err = s.service.Submit(c.Request().Context(), req.Question, req.Table)
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to submit query")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to submit query",
		})
	}

	status := http.StatusAccepted
	if req.Wait {
		status = http.StatusOK
	}
	return c.JSON(status, run)
}

// listQueries handles listing query runs
func (s *Server) listQueries(c echo.Context) error {
	params := service.ListRunParams{
		Search: c.QueryParam("search"),
		SortBy: c.QueryParam("sort_by"),
	}
	params.Page, _ = strconv.Atoi(c.QueryParam("page"))
	params.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	params.SortDesc = c.QueryParam("sort_desc") == "true"

	if statusStr := c.QueryParam("status"); statusStr != "" {
		status := models.QueryRunStatus(statusStr)
		params.Status = &status
	}

	list, err := s.service.List(c.Request().Context(), params)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list queries")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list queries",
		})
	}

	return c.JSON(http.StatusOK, list)
}

// getQuery handles getting a single query run
func (s *Server) getQuery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	run, err := s.service.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Query not found",
		})
	}

	return c.JSON(http.StatusOK, run)
}

// deleteQuery handles query run deletion
func (s *Server) deleteQuery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	if err := s.service.Delete(c.Request().Context(), id); err != nil {
		s.logger.WithError(err).Error("Failed to delete query")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to delete query",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Query deleted successfully",
	})
}

// cancelQuery cancels a pending or running query
func (s *Server) cancelQuery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	if err := s.service.Cancel(c.Request().Context(), id); err != nil {
		s.logger.WithError(err).Error("Failed to cancel query")
		return c.JSON(http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Query canceled",
	})
}

// downloadResult streams the query results as an xlsx workbook
func (s *Server) downloadResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	reader, filename, err := s.service.ResultWorkbook(c.Request().Context(), id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get result workbook")
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	defer reader.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Stream(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", reader)
}

// getResultURL returns a download link for a previously saved workbook
func (s *Server) getResultURL(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	url, err := s.service.ResultFileURL(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"url": url,
	})
}

// getSummary returns the markdown summary of a completed run
func (s *Server) getSummary(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid query ID",
		})
	}

	run, err := s.service.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Query not found",
		})
	}

	if !run.IsCompleted() {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "Query is not completed yet",
		})
	}

	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8",
		[]byte("# Summary for: "+run.Question+"\n\n"+run.Summary+"\n"))
}

// listTables returns warehouse tables ranked by relevance when a search
// term is given
func (s *Server) listTables(c echo.Context) error {
	tables, err := s.schemas.Tables(c.Request().Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list tables")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list tables",
		})
	}

	if q := c.QueryParam("q"); q != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"tables": agent.RankByKeywords(q, tables),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"tables": tables,
		"count":  len(tables),
	})
}

// listArtifacts returns the artifact files the agent has written so far
func (s *Server) listArtifacts(c echo.Context) error {
	infos, err := s.service.Artifacts(c.Request().Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list artifacts")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list artifacts",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"artifacts": infos,
		"count":     len(infos),
	})
}

// getArtifact streams a latest-run artifact file
func (s *Server) getArtifact(c echo.Context) error {
	name := c.Param("name")

	reader, err := s.service.Artifact(c.Request().Context(), name)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	defer reader.Close()

	return c.Stream(http.StatusOK, artifactContentType(name), reader)
}

func artifactContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".sql"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".md"):
		return "text/markdown; charset=utf-8"
	}
	return "application/octet-stream"
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
