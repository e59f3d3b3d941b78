// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/internal/logger"
	"github.com/sage-x-project/mpenc/metrics"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket broadcast room members join",
	Long: `Serve runs the reference transport: a single broadcast room over
gorilla/websocket, plus, when metrics.enabled is set in the config, a
Prometheus endpoint on metrics.addr at metrics.path serving this
process's metrics.`,
	Example: `  mpenc-chat serve --listen :8765`,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "room listen address (default: config's channel.listen_addr, else :8765)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listenAddr := serveListenAddr
	if listenAddr == "" {
		listenAddr = cfg.Channel.ListenAddr
	}
	if listenAddr == "" {
		listenAddr = ":8765"
	}

	room := channel.NewRoom()
	mux := http.NewServeMux()
	mux.Handle("/room", room.Handler())

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", logger.String("addr", cfg.Metrics.Addr), logger.String("path", cfg.Metrics.Path))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("metrics server failed", logger.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("serving broadcast room", logger.String("addr", listenAddr), logger.String("path", "/room"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("room server failed", logger.Error(err))
		}
	}()

	fmt.Printf("room listening on ws://%s/room?member=<name>\n", listenAddr)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("room server shutdown error", logger.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown error", logger.Error(err))
		}
	}
	return nil
}
