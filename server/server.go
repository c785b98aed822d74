// Package server exposes the line-drawing and dialogue features over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/krau/sketchline/config"
	"github.com/krau/sketchline/dialogue"
	"github.com/krau/sketchline/hed"
	"github.com/krau/sketchline/service"
	"github.com/krau/sketchline/story"
)

const shutdownTimeout = 10 * time.Second

type Drawer interface {
	Process(encoded string) (string, error)
}

type DialogueGenerator interface {
	Generate(ctx context.Context, req dialogue.Request) (string, error)
}

type Engine interface {
	State() hed.State
	Close() error
}

type Server struct {
	cfg      config.Config
	engine   Engine
	drawer   Drawer
	dialogue DialogueGenerator
	story    *story.State
	handler  http.Handler
}

// New validates cfg and loads the model. It fails before anything listens
// when the credential or a model file is missing.
func New(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine := hed.New()
	graph, weights := cfg.ModelPaths()
	if err := engine.Load(hed.Options{Backend: cfg.Backend, GraphPath: graph, WeightsPath: weights}); err != nil {
		return nil, err
	}
	client := dialogue.NewClient(dialogue.Options{
		APIKey:    cfg.OpenAIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.OpenAIModel,
		MaxTokens: cfg.DialogueMaxTokens,
		Timeout:   cfg.Timeout(),
	})
	return newServer(cfg, engine, service.NewPipeline(engine, cfg.MaxEdge, cfg.MaxPixels), client, story.New(cfg.StoryHistoryLimit)), nil
}

func newServer(cfg config.Config, engine Engine, drawer Drawer, gen DialogueGenerator, st *story.State) *Server {
	s := &Server{cfg: cfg, engine: engine, drawer: drawer, dialogue: gen, story: st}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := gin.New()
	r.Use(requestLogger(), gin.CustomRecovery(recoverJSON))

	r.POST("/process-line-drawing", s.processLineDrawing)
	r.OPTIONS("/process-line-drawing", noContent)
	r.POST("/generate-dialogue", s.generateDialogue)
	r.OPTIONS("/generate-dialogue", noContent)
	r.POST("/reset-story", s.resetStory)
	r.OPTIONS("/reset-story", noContent)
	r.GET("/story", s.getStory)
	r.GET("/health", s.health)

	c := cors.New(cors.Options{
		AllowedOrigins:     s.cfg.CORSOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		OptionsPassthrough: true,
	})
	return c.Handler(r)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening on", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) Close() error {
	return s.engine.Close()
}
