package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mbarrena/pulsegate/internal/config"
	"github.com/mbarrena/pulsegate/internal/core/port"
	"github.com/mbarrena/pulsegate/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	port    uint
	httpLog bool
	auth    config.AuthConfig

	gate     port.AccessGate
	commands port.CommandSender
	status   *service.StatusService

	rootContext *actor.RootContext
	masterActor *actor.PID

	logger *zap.Logger
}

func NewServer(cfg config.Config, gate port.AccessGate, commands port.CommandSender, status *service.StatusService,
	rootContext *actor.RootContext, masterActor *actor.PID, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		auth:        cfg.Auth,
		gate:        gate,
		commands:    commands,
		status:      status,
		rootContext: rootContext,
		masterActor: masterActor,
		logger:      logger.With(zap.String("component", "server")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
