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

package loop

import (
	"context"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/common/status"
	"github.com/nuclio/nuclio-worker/pkg/errgroup"
	"github.com/nuclio/nuclio-worker/pkg/worker/dispatcher"
	"github.com/nuclio/nuclio-worker/pkg/worker/environment"
	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"
	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"
	"github.com/nuclio/nuclio-worker/pkg/worker/outputchannel"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Loop runs the worker side of the event stream. Inbound messages are handed to detached handlers,
// whose responses reach the host through the output channel
type Loop struct {
	logger        logger.Logger
	configuration *Configuration
	outputChannel *outputchannel.OutputChannel
	registry      *functionregistry.Registry
	catalog       *functionregistry.Catalog
	dispatcher    *dispatcher.Dispatcher
	reloader      *environment.Reloader
	metrics       *metrics.Metrics
	handlers      map[wire.ContentKind]handlerFunc

	statusLock sync.RWMutex
	status     status.Status

	inFlightHandlers sync.WaitGroup
	inFlight         int64
}

func NewLoop(parentLogger logger.Logger,
	configuration *Configuration,
	outputChannel *outputchannel.OutputChannel,
	registry *functionregistry.Registry,
	catalog *functionregistry.Catalog,
	dispatcher *dispatcher.Dispatcher,
	reloader *environment.Reloader,
	workerMetrics *metrics.Metrics) (*Loop, error) {
	if configuration == nil || configuration.WorkerID == "" {
		return nil, errors.New("Worker ID must be configured")
	}

	if configuration.Capabilities == nil {
		configuration.Capabilities = DefaultCapabilities()
	}

	if configuration.ShutdownGracePeriod == 0 {
		configuration.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}

	newLoop := &Loop{
		logger:        parentLogger.GetChild("loop"),
		configuration: configuration,
		outputChannel: outputChannel,
		registry:      registry,
		catalog:       catalog,
		dispatcher:    dispatcher,
		reloader:      reloader,
		metrics:       workerMetrics,
		status:        status.Idle,
	}

	newLoop.handlers = map[wire.ContentKind]handlerFunc{
		wire.ContentKindWorkerInitRequest:             newLoop.handleWorkerInit,
		wire.ContentKindFunctionLoadRequest:           newLoop.handleFunctionLoad,
		wire.ContentKindFunctionLoadRequestCollection: newLoop.handleFunctionLoadCollection,
		wire.ContentKindInvocationRequest:             newLoop.handleInvocation,
		wire.ContentKindEnvironmentReloadRequest:      newLoop.handleEnvironmentReload,
		wire.ContentKindWorkerStatusRequest:           newLoop.handleWorkerStatus,
		wire.ContentKindInvocationCancel:              newLoop.handleInvocationCancel,
	}

	return newLoop, nil
}

// Run opens the stream and serves it until the host closes it, asks the worker to terminate, or the
// transport fails. Only transport failures are returned
func (l *Loop) Run(ctx context.Context, openStream StreamOpener) error {
	if err := l.setStreaming(); err != nil {
		return err
	}

	errGroup, errGroupCtx := errgroup.WithContext(ctx, l.logger, 0)

	stream, err := openStream(errGroupCtx)
	if err != nil {
		l.setStatus(status.Error)
		return errors.Wrap(err, "Failed to open event stream")
	}

	l.outputChannel.Write(wire.NewStartStream(l.configuration.WorkerID))

	l.logger.InfoWith("Streaming", "workerID", l.configuration.WorkerID)

	errGroup.Go("writer", func() error {
		return l.writeMessages(errGroupCtx, stream)
	})

	errGroup.Go("reader", func() error {
		return l.readMessages(ctx, stream)
	})

	if err := errGroup.Wait(); err != nil {
		l.setStatus(status.Error)
		return errors.Wrap(err, "Event stream failed")
	}

	l.setStatus(status.Terminated)
	l.logger.InfoWith("Event stream terminated", "workerID", l.configuration.WorkerID)

	return nil
}

// GetStatus returns the status of the loop
func (l *Loop) GetStatus() status.Status {
	l.statusLock.RLock()
	defer l.statusLock.RUnlock()

	return l.status
}

// Wait blocks until all in flight handlers are done
func (l *Loop) Wait() {
	l.inFlightHandlers.Wait()
}

// InFlight returns the number of handlers currently running
func (l *Loop) InFlight() int64 {
	return atomic.LoadInt64(&l.inFlight)
}

func (l *Loop) writeMessages(ctx context.Context, stream Stream) error {
	for {
		message, err := l.outputChannel.Read(ctx)
		if err != nil {
			if err == outputchannel.ErrClosed {
				l.logger.Debug("Output channel closed and drained")
				return stream.CloseSend()
			}

			// the reader failed, it reports the error
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrap(err, "Failed to read from output channel")
		}

		if err := stream.Send(message); err != nil {
			return errors.Wrap(err, "Failed to send message")
		}

		l.metrics.IncSent()
	}
}

func (l *Loop) readMessages(ctx context.Context, stream Stream) error {
	for {
		message, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				l.logger.Info("Host closed the event stream")
				l.shutdown(l.configuration.ShutdownGracePeriod)
				return nil
			}

			return errors.Wrap(err, "Failed to receive message")
		}

		kind, err := message.ContentKind()
		if err != nil {
			l.logger.WarnWith("Dropping invalid message",
				"requestID", message.RequestID,
				"err", err.Error())
			continue
		}

		l.metrics.IncReceived(string(kind))

		if kind == wire.ContentKindWorkerTerminate {
			gracePeriod := time.Duration(message.Content.WorkerTerminate.GracePeriodMs) * time.Millisecond
			if gracePeriod <= 0 {
				gracePeriod = l.configuration.ShutdownGracePeriod
			}

			l.logger.InfoWith("Terminating", "gracePeriod", gracePeriod.String())
			l.shutdown(gracePeriod)
			return nil
		}

		handler, found := l.handlers[kind]
		if !found {
			l.logger.WarnWith("Ignoring unexpected message",
				"requestID", message.RequestID,
				"kind", kind)
			continue
		}

		l.spawn(ctx, kind, handler, message)
	}
}

// spawn runs a handler without waiting for it. Whatever happens in the handler ends up as a response
func (l *Loop) spawn(ctx context.Context,
	kind wire.ContentKind,
	handler handlerFunc,
	message *wire.StreamingMessage) {
	l.inFlightHandlers.Add(1)
	atomic.AddInt64(&l.inFlight, 1)

	go func() {
		defer func() {
			atomic.AddInt64(&l.inFlight, -1)
			l.inFlightHandlers.Done()
		}()

		if response := l.runHandler(ctx, kind, handler, message); response != nil {
			l.outputChannel.Write(response)
		}
	}()
}

func (l *Loop) runHandler(ctx context.Context,
	kind wire.ContentKind,
	handler handlerFunc,
	message *wire.StreamingMessage) (response *wire.StreamingMessage) {
	defer func() {
		if recoveredErr := recover(); recoveredErr != nil {
			callStack := string(debug.Stack())

			l.logger.ErrorWith("Panic caught in handler",
				"kind", kind,
				"requestID", message.RequestID,
				"err", recoveredErr,
				"stack", callStack)

			response = failureResponse(kind,
				message,
				errors.Errorf("Caught panic: %v", recoveredErr),
				callStack)
		}
	}()

	response, err := handler(ctx, message.RequestID, message)
	if err != nil {
		l.logger.WarnWith("Handler failed",
			"kind", kind,
			"requestID", message.RequestID,
			"err", errors.GetErrorStackString(err, 10))

		return failureResponse(kind, message, err, "")
	}

	return response
}

// shutdown waits up to gracePeriod for in flight handlers and closes the output channel, letting the
// writer drain what is left
func (l *Loop) shutdown(gracePeriod time.Duration) {
	handlersDone := make(chan struct{})

	go func() {
		l.inFlightHandlers.Wait()
		close(handlersDone)
	}()

	select {
	case <-handlersDone:
	case <-time.After(gracePeriod):
		l.logger.WarnWith("Handlers still running after grace period",
			"inFlight", l.InFlight(),
			"gracePeriod", gracePeriod.String())
	}

	l.outputChannel.Close()
}

func (l *Loop) setStreaming() error {
	l.statusLock.Lock()
	defer l.statusLock.Unlock()

	if l.status != status.Idle {
		return errors.Errorf("Loop cannot start streaming while %s", l.status)
	}

	l.status = status.Streaming
	return nil
}

func (l *Loop) setStatus(newStatus status.Status) {
	l.statusLock.Lock()
	defer l.statusLock.Unlock()

	l.status = newStatus
}
