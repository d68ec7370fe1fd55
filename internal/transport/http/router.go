package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
)

// ProfileService reads and updates readiness profiles.
type ProfileService interface {
	Profiles(ctx context.Context, userID string) ([]domain.ReadinessMetrics, error)
	Profile(ctx context.Context, userID, specialisation string) (domain.ReadinessMetrics, error)
	SetPrimary(ctx context.Context, userID, specialisation string) error
}

// NewRouter wires the REST API and the attempt websocket.
func NewRouter(attempts *app.AttemptService, profiles ProfileService, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(recovery(logger), requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ws := NewWSHandler(attempts, logger)
	router.GET("/ws/attempts", func(c *gin.Context) {
		ws.ServeWS(c.Writer, c.Request)
	})

	h := &AttemptHandler{attempts: attempts}
	p := &ProfileHandler{profiles: profiles}

	v1 := router.Group("/api/v1", userIdentity())
	{
		a := v1.Group("/attempts")
		a.POST("", h.Start)
		a.GET("/:id", h.Get)
		a.PUT("/:id/answers", h.Answer)
		a.POST("/:id/submit", h.Submit)
		a.POST("/:id/resume", h.Resume)
		a.DELETE("/:id", h.Abandon)

		pr := v1.Group("/profiles")
		pr.GET("", p.List)
		pr.GET("/:specialisation", p.Get)
		pr.PUT("/:specialisation/primary", p.SetPrimary)
	}
	return router
}
