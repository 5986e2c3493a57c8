/*
Copyright 2024 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package admin

import (
	"context"
	"net"
	"net/http"

	"github.com/nuclio/nuclio-worker/pkg/common/healthcheck"
	"github.com/nuclio/nuclio-worker/pkg/common/status"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes worker metrics and health over HTTP
type Server struct {
	logger        logger.Logger
	listenAddress string
	router        chi.Router
	httpServer    *http.Server
}

func NewServer(parentLogger logger.Logger,
	listenAddress string,
	gatherer prometheus.Gatherer,
	statusProvider status.Provider) *Server {
	newServer := &Server{
		logger:        parentLogger.GetChild("admin"),
		listenAddress: listenAddress,
	}

	newServer.router = newServer.createRouter(gatherer, statusProvider)
	newServer.httpServer = &http.Server{
		Handler: newServer.router,
	}

	return newServer
}

// ListenAndServe serves on the configured address until Shutdown
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen on %s", s.listenAddress)
	}

	return s.Serve(listener)
}

// Serve serves on listener until Shutdown
func (s *Server) Serve(listener net.Listener) error {
	s.logger.InfoWith("Listening", "listenAddress", listener.Addr().String())

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Admin server failed")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) createRouter(gatherer prometheus.Gatherer, statusProvider status.Provider) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)

	healthHandler := healthcheck.NewHandler("worker", statusProvider)

	router.Get("/live", healthHandler.LiveEndpoint)
	router.Get("/ready", healthHandler.ReadyEndpoint)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return router
}
