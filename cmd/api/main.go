package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbarrena/pulsegate/internal/config"
	coreactor "github.com/mbarrena/pulsegate/internal/core/actor"
	"github.com/mbarrena/pulsegate/internal/core/domain"
	"github.com/mbarrena/pulsegate/internal/core/service"
	"github.com/mbarrena/pulsegate/internal/mqtt"
	"github.com/mbarrena/pulsegate/internal/server"
	"github.com/mbarrena/pulsegate/internal/sigv4"
	"github.com/mbarrena/pulsegate/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// wire services over the shared registry and the ephemeral dialer
	signer := sigv4.NewSigner(sigv4.Credentials{
		AccessKeyId:     cfg.AWS.AccessKeyId,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, nil)
	dialer := mqtt.NewDialer(signer, time.Duration(cfg.AWS.SignExpirySeconds)*time.Second, logger)
	registry := service.NewRegistry(cfg.DomainDevices(), cfg.DomainUsers())
	commands := service.NewCommandService(registry, dialer, logger)
	status := service.NewStatusService(registry, dialer, logger)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return coreactor.NewMasterActor(*cfg, registry, commands, status, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	// periodic status polls
	scheduler, err := startStatusPollScheduler(cfg, ctx, pid)
	if err != nil {
		logger.Error("status poll scheduler error", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, registry, commands, status, ctx, pid, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	if scheduler != nil {
		scheduler.Stop()
	}
	ctx.Stop(pid)
	as.Shutdown()
}

func startStatusPollScheduler(cfg *config.Config, ctx *pactor.RootContext, master *pactor.PID) (quartz.Scheduler, error) {
	if cfg.StatusPoll.IntervalMillis == 0 {
		return nil, nil
	}

	scheduler := quartz.NewStdScheduler()
	scheduler.Start(context.Background())

	tickJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		ctx.Send(master, domain.StatusPollTick{})
		return true, nil
	})
	interval := time.Duration(cfg.StatusPoll.IntervalMillis) * time.Millisecond
	err := scheduler.ScheduleJob(
		quartz.NewJobDetail(tickJob, quartz.NewJobKey("status_poll")),
		quartz.NewSimpleTrigger(interval))
	if err != nil {
		scheduler.Stop()
		return nil, err
	}
	return scheduler, nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => PULSEGATE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("PULSEGATE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("pulsegate")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("aws.sign_expiry_seconds", 300)
	viper.SetDefault("auth.session_cookie", "pulsegate_session")
	viper.SetDefault("gesture.long_press_threshold_millis", 500)
	viper.SetDefault("gesture.min_pulse_millis", 200)
	viper.SetDefault("status_poll.interval_millis", 30000)
}

func safePrintConfig(cfg config.Config) {
	cfg.AWS.AccessKeyId = "*redacted*"
	cfg.AWS.SecretAccessKey = "*redacted*"
	cfg.Auth.SessionSecret = "*redacted*"
	slog.Info("Using", "config", cfg)
}
