package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/krau/sketchline/apperr"
	"github.com/krau/sketchline/dialogue"
)

const errNoImage = "No image data received"

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Decode, apperr.Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	attrs := []any{slog.String("error", err.Error()), slog.String("request_id", requestIDOf(c))}
	if status >= http.StatusInternalServerError {
		slog.Error(msg, attrs...)
	} else {
		slog.Warn(msg, attrs...)
	}
	c.JSON(status, failure(err.Error()))
}

func (s *Server) processLineDrawing(c *gin.Context) {
	var req lineDrawingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "Invalid request body", apperr.E(apperr.Invalid, "", err))
		return
	}
	if req.Image == "" {
		slog.Warn(errNoImage, slog.String("request_id", requestIDOf(c)))
		c.JSON(http.StatusBadRequest, failure(errNoImage))
		return
	}
	detail := req.DetailLevel
	if detail == "" {
		detail = "medium"
	}
	slog.Debug("Processing line drawing", slog.String("detail_level", detail))

	drawing, err := s.drawer.Process(req.Image)
	if err != nil {
		fail(c, "Error processing line drawing", err)
		return
	}
	counter := s.story.RecordImage(drawing)
	c.JSON(http.StatusOK, lineDrawingResponse{Success: true, Images: []string{drawing}, Counter: counter})
}

func (s *Server) generateDialogue(c *gin.Context) {
	var req dialogueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "Invalid request body", apperr.E(apperr.Invalid, "", err))
		return
	}
	if req.Image == "" {
		c.JSON(http.StatusBadRequest, failure(errNoImage))
		return
	}
	pos := dialogue.DefaultPosition
	if req.Position != nil {
		pos = *req.Position
	}

	// The upstream call runs to completion even if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	line, err := s.dialogue.Generate(ctx, dialogue.Request{
		Image:            req.Image,
		PreviousDialogue: req.PreviousDialogue,
		Position:         pos,
	})
	if err != nil {
		fail(c, "Error generating dialogue", err)
		return
	}
	s.story.RecordStory(line)
	c.JSON(http.StatusOK, dialogueResponse{Success: true, Dialogue: line})
}

func (s *Server) resetStory(c *gin.Context) {
	s.story.Reset()
	slog.Info("Story reset", slog.String("request_id", requestIDOf(c)))
	c.JSON(http.StatusOK, resetResponse{Success: true, Counter: 0})
}

func (s *Server) getStory(c *gin.Context) {
	snap := s.story.Snapshot()
	stories := snap.Stories
	if stories == nil {
		stories = []string{}
	}
	c.JSON(http.StatusOK, storyResponse{Success: true, Counter: snap.Counter, Stories: stories})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "engine": s.engine.State().String()})
}
