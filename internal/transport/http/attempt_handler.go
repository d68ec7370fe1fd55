package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
)

type AttemptHandler struct {
	attempts *app.AttemptService
}

// StartRequest starts by quiz id, or by specialisation and difficulty level.
type StartRequest struct {
	QuizID         string `json:"quizId"`
	Specialisation string `json:"specialisation" binding:"required_without=QuizID"`
	Level          int    `json:"level" binding:"omitempty,min=1,max=5"`
}

type AnswerRequest struct {
	QuestionID  string `json:"questionId" binding:"required"`
	SelectedKey string `json:"selectedKey" binding:"required"`
}

func (h *AttemptHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID := currentUser(c)
	var (
		snap domain.AttemptSnapshot
		err  error
	)
	if req.QuizID != "" {
		snap, err = h.attempts.StartQuiz(c.Request.Context(), userID, req.QuizID)
	} else {
		if req.Level == 0 {
			badRequest(c, "level is required with specialisation")
			return
		}
		snap, err = h.attempts.StartAttempt(c.Request.Context(), userID, req.Specialisation, req.Level)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *AttemptHandler) Get(c *gin.Context) {
	snap, err := h.attempts.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *AttemptHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := h.attempts.Answer(c.Request.Context(), currentUser(c), c.Param("id"), req.QuestionID, req.SelectedKey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Submit returns the scored outcome. An aggregation failure still answers 200 with the
// failure described in the outcome.
func (h *AttemptHandler) Submit(c *gin.Context) {
	outcome, err := h.attempts.Submit(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *AttemptHandler) Resume(c *gin.Context) {
	snap, err := h.attempts.Resume(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *AttemptHandler) Abandon(c *gin.Context) {
	if err := h.attempts.Abandon(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ProfileHandler struct {
	profiles ProfileService
}

func (h *ProfileHandler) List(c *gin.Context) {
	profiles, err := h.profiles.Profiles(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (h *ProfileHandler) Get(c *gin.Context) {
	profile, err := h.profiles.Profile(c.Request.Context(), currentUser(c), c.Param("specialisation"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *ProfileHandler) SetPrimary(c *gin.Context) {
	if err := h.profiles.SetPrimary(c.Request.Context(), currentUser(c), c.Param("specialisation")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
