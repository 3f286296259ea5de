// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/factory"
	"github.com/AleutianAI/negentropy/knowledge"
	"github.com/AleutianAI/negentropy/memory"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/routes"
	"github.com/AleutianAI/negentropy/session"
	"github.com/AleutianAI/negentropy/storage"
	"github.com/AleutianAI/negentropy/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine's HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg := config.Get()

	logger := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Sinks:    cfg.Logging.Sinks,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
		Service:  cfg.Tracing.ServiceName,
	})
	defer logger.Close()

	var db *storage.DB
	if cfg.UsePostgres() {
		if cfg.Database.MigrateOnStart {
			if err := storage.Migrate(cfg.Database.URL); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			logger.Info("database migrations applied")
		}
		var err error
		db, err = storage.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()
	}

	f := factory.New(cfg, db)

	spanStore, err := f.SpanStore()
	if err != nil {
		return err
	}
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, spanStore, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	metrics := observability.InitMetrics()

	sessionStore, err := f.SessionStore()
	if err != nil {
		return err
	}
	memoryStore, err := f.MemoryStore()
	if err != nil {
		return err
	}
	credentialStore, err := f.CredentialStore()
	if err != nil {
		return err
	}
	knowledgeRepo, err := f.KnowledgeRepository()
	if err != nil {
		return err
	}
	artifacts, err := f.ArtifactStore(ctx)
	if err != nil {
		return err
	}

	var titler *session.Titler
	if chat := f.ChatModel(); chat != nil {
		titler = session.NewTitler(chat)
	}
	sessions := session.NewService(sessionStore, titler, logger)
	memories := memory.NewService(memoryStore, f.Embedder(), logger, cfg.Memory.SearchLimit)
	governance := memory.NewGovernance(memoryStore, logger)

	pipeline := knowledge.NewPipeline(knowledgeRepo, f.Embedder(), nil, logger)
	deps := routes.Deps{
		Config:      cfg,
		Metrics:     metrics,
		Sessions:    sessions,
		Memories:    memories,
		Governance:  governance,
		Credentials: credentialStore,
		Knowledge:   knowledge.NewService(knowledgeRepo, logger),
		Retriever:   knowledge.NewRetriever(knowledgeRepo, f.Embedder(), nil, logger),
		Pipeline:    pipeline,
		Documents:   knowledge.NewDocumentService(knowledgeRepo, artifacts, pipeline, logger),
		Runs:        knowledgeRepo,
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server drain failed", "error", err)
	}

	// Let in-flight title generation finish before the stores go away.
	sessions.WaitForTitles()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
