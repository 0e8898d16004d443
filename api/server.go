package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stellarlinkco/call-eval/internal/app"
	"github.com/stellarlinkco/call-eval/internal/config"
)

type Server struct {
	router    *gin.Engine
	app       *app.App
	config    *config.Config
	suitesDir string
	events    *eventRegistry
}

func NewServer(cfg *config.Config, a *app.App, suitesDir string) (*Server, error) {
	suitesDir = strings.TrimSpace(suitesDir)
	if suitesDir == "" {
		suitesDir = "suites"
	}

	r := gin.New()
	s := &Server{
		router:    r,
		app:       a,
		config:    cfg,
		suitesDir: suitesDir,
		events:    newEventRegistry(),
	}
	s.registerMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Run(addr string) error {
	if s == nil || s.router == nil {
		return errors.New("api: nil server")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	return s.router.Run(addr)
}
