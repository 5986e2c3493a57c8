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

package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/errgroup"
	"github.com/nuclio/nuclio-worker/pkg/worker/admin"
	"github.com/nuclio/nuclio-worker/pkg/worker/config"
	"github.com/nuclio/nuclio-worker/pkg/worker/dispatcher"
	"github.com/nuclio/nuclio-worker/pkg/worker/environment"
	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"
	"github.com/nuclio/nuclio-worker/pkg/worker/httpbridge"
	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/loop"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"
	"github.com/nuclio/nuclio-worker/pkg/worker/outputchannel"
	"github.com/nuclio/nuclio-worker/pkg/worker/transport"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

const serverShutdownTimeout = 5 * time.Second

// Worker holds every component of a worker process
type Worker struct {
	logger        logger.Logger
	configuration *config.Config
	metrics       *metrics.Metrics
	catalog       *functionregistry.Catalog
	bridge        *httpbridge.Bridge
	loop          *loop.Loop
}

// NewWorker creates a worker from a validated configuration. Functions compiled into the binary are
// registered on catalog before the worker starts
func NewWorker(configuration *config.Config, catalog *functionregistry.Catalog) (*Worker, error) {
	if err := configuration.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}

	workerLogger, err := createLogger(configuration)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	if catalog == nil {
		catalog = functionregistry.NewCatalog()
	}

	newWorker := &Worker{
		logger:        workerLogger,
		configuration: configuration,
		catalog:       catalog,
	}

	newWorker.metrics, err = metrics.NewMetrics(configuration.WorkerID)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create metrics")
	}

	outputChannel := outputchannel.NewOutputChannel()
	registry := functionregistry.NewRegistry(workerLogger)
	bindingMarshaller := marshaller.NewMarshaller(workerLogger)
	factory := invocation.NewFactory(workerLogger, registry, bindingMarshaller, outputChannel)

	newWorker.bridge = httpbridge.NewBridge(workerLogger, newWorker.metrics)

	// without the ingress nothing publishes HTTP contexts, so HTTP triggered functions are invoked
	// like any other and their response travels in the return value
	var middlewares []dispatcher.Middleware
	if configuration.HTTPIngress.IsEnabled() {
		middlewares = append(middlewares, newWorker.bridge.ProxyingMiddleware(bindingMarshaller))
	}

	invocationDispatcher := dispatcher.NewDispatcher(workerLogger,
		factory,
		bindingMarshaller,
		newWorker.metrics,
		middlewares...)

	newWorker.loop, err = loop.NewLoop(workerLogger,
		&loop.Configuration{
			WorkerID:            configuration.WorkerID,
			MinimumHostVersion:  configuration.MinimumHostVersion,
			ShutdownGracePeriod: configuration.ShutdownGracePeriod,
		},
		outputChannel,
		registry,
		catalog,
		invocationDispatcher,
		environment.NewReloader(workerLogger),
		newWorker.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create loop")
	}

	return newWorker, nil
}

// Start connects to the host and serves the event stream until it ends. The HTTP ingress and the
// admin server, if enabled, are stopped once it does
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoWith("Starting worker",
		"workerID", w.configuration.WorkerID,
		"requestID", w.configuration.RequestID,
		"host", w.configuration.Host,
		"port", w.configuration.Port,
		"entryPoints", w.catalog.EntryPoints())

	if w.configuration.FunctionAppDirectory != "" {
		if err := os.Chdir(w.configuration.FunctionAppDirectory); err != nil {
			return errors.Wrapf(err, "Failed to change directory to %s", w.configuration.FunctionAppDirectory)
		}
	}

	client, err := transport.Dial(ctx, w.logger, &transport.Options{
		Host:             w.configuration.Host,
		Port:             w.configuration.Port,
		MaxMessageLength: w.configuration.GRPCMaxMessageLength,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to connect to host")
	}

	defer client.Close() // nolint: errcheck

	group, groupCtx := errgroup.WithContext(ctx, w.logger, errgroup.DefaultErrgroupConcurrency)
	servicesCtx, cancelServices := context.WithCancel(groupCtx)

	group.Go("Event stream", func() error {
		defer cancelServices()

		return w.loop.Run(groupCtx, client.OpenStream)
	})

	if w.configuration.HTTPIngress.IsEnabled() {
		ingress := httpbridge.NewIngress(w.logger, w.bridge, w.configuration.HTTPIngress.ListenAddress)

		group.Go("HTTP ingress", ingress.ListenAndServe)
		group.Go("HTTP ingress shutdown", func() error {
			<-servicesCtx.Done()
			return ingress.Shutdown()
		})

		group.Go("Correlation janitor", func() error {
			w.bridge.RunJanitor(servicesCtx,
				w.configuration.HTTPIngress.CorrelationTTL,
				w.configuration.HTTPIngress.JanitorInterval)
			return nil
		})
	}

	if w.configuration.Admin.IsEnabled() {
		adminServer := admin.NewServer(w.logger, w.configuration.Admin.ListenAddress, w.metrics.Registry, w.loop)

		group.Go("Admin server", adminServer.ListenAndServe)
		group.Go("Admin server shutdown", func() error {
			<-servicesCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()

			if err := adminServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		w.logger.ErrorWith("Worker failed", "err", errors.GetErrorStackString(err, 10))
		return err
	}

	w.logger.InfoWith("Worker stopped", "workerID", w.configuration.WorkerID)
	return nil
}

func createLogger(configuration *config.Config) (logger.Logger, error) {
	return nucliozap.NewNuclioZap("worker",
		configuration.Logger.Encoding,
		nil,
		os.Stdout,
		os.Stderr,
		nucliozap.GetLevelByName(configuration.Logger.Level))
}
