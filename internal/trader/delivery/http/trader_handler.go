package http

import (
	"net/http"

	"golang-leverage-trader/internal/trader/service"
	"golang-leverage-trader/pkg/logger"

	"github.com/labstack/echo/v4"
)

// TraderHandler exposes the orchestrator to the dashboard.
type TraderHandler struct {
	orchestrator *service.Orchestrator
	logger       *logger.Logger
}

// NewTraderHandler creates a new TraderHandler.
func NewTraderHandler(orchestrator *service.Orchestrator, logger *logger.Logger) *TraderHandler {
	return &TraderHandler{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes registers the trader routes to the Echo group.
func (h *TraderHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.POST("/cycles", h.RunOneCycle)
	g.GET("/status", h.GetStatus)
	g.GET("/history", h.GetHistory)
}

type startRequest struct {
	Symbol string `json:"symbol"`
}

// Start begins the trading loop for a symbol.
func (h *TraderHandler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request payload"})
	}

	if err := h.orchestrator.Start(c.Request().Context(), req.Symbol); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "started"})
}

// Stop halts the trading loop without closing positions.
func (h *TraderHandler) Stop(c echo.Context) error {
	h.orchestrator.Stop()
	return c.JSON(http.StatusOK, echo.Map{"status": "stopped"})
}

// RunOneCycle triggers a single trading cycle on demand.
func (h *TraderHandler) RunOneCycle(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request payload"})
	}

	h.orchestrator.RunOneCycle(c.Request().Context(), req.Symbol)
	return c.JSON(http.StatusAccepted, echo.Map{"status": "cycle completed"})
}

// GetStatus returns the orchestrator state and active positions.
func (h *TraderHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.orchestrator.GetStatus())
}

// GetHistory returns the merged audit log, newest first.
func (h *TraderHandler) GetHistory(c echo.Context) error {
	entries, err := h.orchestrator.GetHistory(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, entries)
}
