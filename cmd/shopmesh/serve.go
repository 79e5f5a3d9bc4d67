package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shopmesh/shopmesh"
	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/model/anthropic"
	"github.com/shopmesh/shopmesh/model/openai"
	"github.com/shopmesh/shopmesh/server"
	"github.com/shopmesh/shopmesh/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.Flags().String("listen", "", "listen address (overrides config)")
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func serve(ctx context.Context) error {
	logger := buildLogger()

	supervisorModel, agentModel, err := buildModels()
	if err != nil {
		return err
	}

	client := commerce.NewClient(
		viper.GetString("commerce.base_url"),
		viper.GetString("commerce.token"),
		func(o *commerce.ClientOptions) { o.Logger = logger },
	)

	store, err := buildSessionStore(ctx, logger)
	if err != nil {
		return err
	}

	mesh, err := shopmesh.New(supervisorModel, agentModel, client, func(o *shopmesh.Options) {
		o.StoreName = viper.GetString("store_name")
		o.SessionStore = store
		o.Logger = logger
	})
	if err != nil {
		return fmt.Errorf("build assistant: %w", err)
	}

	srv := server.New(mesh.Runner(), func(o *server.Options) { o.Logger = logger })

	addr := viper.GetString("listen")
	logger.Info("server.start", "listen", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("server.shutdown", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func buildLogger() logging.Logger {
	level := logging.LogLevelInfo
	switch viper.GetString("log.level") {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}

	return logging.NewSlogLogger(level, viper.GetString("log.format"), false)
}

func buildModels() (supervisor, agent model.Model, err error) {
	provider := viper.GetString("provider")
	supervisorName := viper.GetString("supervisor_model")
	agentName := viper.GetString("agent_model")

	switch provider {
	case "openai":
		supervisor = openai.NewModel(func(o *openai.Options) {
			if supervisorName != "" {
				o.Model = supervisorName
			}
		})
		agent = openai.NewModel(func(o *openai.Options) {
			if agentName != "" {
				o.Model = agentName
			}
		})
	case "anthropic":
		supervisor = anthropic.NewModel(func(o *anthropic.Options) {
			if supervisorName != "" {
				o.Model = anthropicsdk.Model(supervisorName)
			}
		})
		agent = anthropic.NewModel(func(o *anthropic.Options) {
			if agentName != "" {
				o.Model = anthropicsdk.Model(agentName)
			}
		})
	default:
		return nil, nil, fmt.Errorf("unknown model provider %q (want openai or anthropic)", provider)
	}

	return supervisor, agent, nil
}

func buildSessionStore(ctx context.Context, logger logging.Logger) (core.SessionStore, error) {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		logger.Info("session.store", "backend", "memory")
		return session.NewInMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Info("session.store", "backend", "redis", "addr", addr)

	return session.NewRedisStore(client), nil
}
