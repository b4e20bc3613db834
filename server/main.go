package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/drowsiness-cv/server/config"
	applog "github.com/san-kum/drowsiness-cv/server/logger"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"go.uber.org/zap"
)

func main() {
	stdinMode := flag.Bool("stdin", false, "classify one JSON frame from stdin and exit")
	tokenUser := flag.String("issue-token", "", "print an admin token for this username and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -issue-token")
	flag.Parse()

	cfg := config.LoadConfig()
	if (*stdinMode || *tokenUser != "") && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	logger, err := applog.New(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if *tokenUser != "" {
		if err := issueToken(cfg, *tokenUser, *tokenTTL, os.Stdout, logger); err != nil {
			logger.Fatal("Failed to issue token", zap.Error(err))
		}
		return
	}

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	artifacts, err := ml.LoadArtifacts(ml.ArtifactPaths{
		Scaler:     cfg.Model.ScalerPath,
		Classifier: cfg.Model.ClassifierPath,
		Encoder:    cfg.Model.EncoderPath,
	}, cfg.Model.Version, logger)
	if err != nil {
		logger.Fatal("Failed to load model artifacts", zap.Error(err))
	}

	landmarkClient := ml.NewLandmarkClient(cfg.Landmark.BaseURL, &ml.ClientConfig{
		Timeout:             cfg.Landmark.Timeout,
		MaxRetries:          cfg.Landmark.MaxRetries,
		RetryDelay:          cfg.Landmark.RetryDelay,
		HealthCheckInterval: cfg.Landmark.HealthCheckInterval,
	}, logger)

	if *stdinMode {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Processor.ProcessingTimeout)
		defer cancel()

		if err := runOnce(ctx, os.Stdin, os.Stdout, landmarkClient, artifacts); err != nil {
			logger.Error("Classification failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go landmarkClient.StartHealthChecker(healthCtx)

	server := NewServer(cfg, artifacts, landmarkClient, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("model_version", artifacts.Version))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// stop accepting requests before the workers go away
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	stopHealth()
	server.Shutdown(ctx)

	logger.Info("Server exited")
}
