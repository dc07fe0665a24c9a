package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/yieldmind/scheduler"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health service and cycle scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.checkChain(cmd.Context())

		srv, err := a.httpServer()
		if err != nil {
			return err
		}

		httpLis, err := net.Listen("tcp", cfg.HTTPAddr())
		if err != nil {
			return fmt.Errorf("listen http: %w", err)
		}

		var grpcLis net.Listener
		if addr := cfg.GRPCAddr(); addr != "" {
			grpcLis, err = net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("YieldMind AI Backend Running")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("API: http://localhost%s/api", cfg.HTTPAddr())
		log.Printf("WebSocket endpoint: ws://localhost%s/ws", cfg.HTTPAddr())
		log.Printf("Model: %s (configured=%t)", cfg.Model, cfg.OracleConfigured())
		log.Printf("Cycle interval: %s", cfg.CycleInterval)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return srv.Serve(httpLis)
		})

		if grpcLis != nil {
			g.Go(func() error {
				return a.health.Serve(grpcLis)
			})
		}

		g.Go(func() error {
			err := scheduler.New(a.controller, cfg.CycleInterval).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-ctx.Done()
			log.Printf("[APP] Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.health.Stop()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}
