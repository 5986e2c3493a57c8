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

package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Handler runs a function within its invocation context and returns the function's return value
type Handler func(ctx context.Context, invocationContext *invocation.Context) (interface{}, error)

// Middleware wraps a handler
type Middleware func(next Handler) Handler

// PanicError is returned when a function (or a middleware) panics
type PanicError struct {
	Value interface{}
	Stack string
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("Caught panic: %v", pe.Value)
}

// Dispatcher executes invocation requests and produces their responses
type Dispatcher struct {
	logger     logger.Logger
	factory    *invocation.Factory
	marshaller *marshaller.Marshaller
	metrics    *metrics.Metrics
	handler    Handler
}

// NewDispatcher creates a dispatcher. Middlewares run in the order given, the first being the outermost
func NewDispatcher(parentLogger logger.Logger,
	factory *invocation.Factory,
	marshaller *marshaller.Marshaller,
	workerMetrics *metrics.Metrics,
	middlewares ...Middleware) *Dispatcher {
	newDispatcher := &Dispatcher{
		logger:     parentLogger.GetChild("dispatcher"),
		factory:    factory,
		marshaller: marshaller,
		metrics:    workerMetrics,
	}

	handler := Handler(invokeFunction)
	for idx := len(middlewares) - 1; idx >= 0; idx-- {
		handler = middlewares[idx](handler)
	}

	newDispatcher.handler = handler

	return newDispatcher
}

// Dispatch executes an invocation and always returns exactly one response message, carrying requestID
func (d *Dispatcher) Dispatch(ctx context.Context,
	requestID string,
	request *wire.InvocationRequest) *wire.StreamingMessage {
	startTime := time.Now()

	response := &wire.InvocationResponse{}
	if request != nil {
		response.InvocationID = request.InvocationID
	}

	functionName := "unknown"

	invocationContext, err := d.factory.Create(ctx, requestID, request)
	if err != nil {
		d.logger.WarnWith("Failed to create invocation context",
			"requestID", requestID,
			"invocationID", response.InvocationID,
			"err", errors.GetErrorStackString(err, 10))

		response.Result = wire.FailureResult(functionName, err)
	} else {
		functionName = invocationContext.Descriptor.Name
		d.execute(ctx, invocationContext, response)
	}

	d.metrics.ObserveInvocation(functionName, response.Result.Status.String(), time.Since(startTime))

	return wire.NewInvocationResponse(requestID, response)
}

func (d *Dispatcher) execute(ctx context.Context,
	invocationContext *invocation.Context,
	response *wire.InvocationResponse) {
	source := invocationContext.Descriptor.Name

	returnValue, err := d.runHandler(ctx, invocationContext)
	if err != nil {
		invocationContext.Logger.WarnWith("Function invocation failed",
			"invocationID", invocationContext.InvocationID,
			"err", err.Error())

		if panicErr, isPanic := err.(*PanicError); isPanic {
			response.Result = wire.FailureResultWithStack(source, err, panicErr.Stack)
		} else {
			response.Result = wire.FailureResult(source, err)
		}

		return
	}

	// outputs are marshalled before the response is handed back, and so before it is enqueued
	outputs := invocationContext.Outputs()
	for _, name := range invocationContext.OutputNames() {
		value := outputs[name]

		response.OutputData = append(response.OutputData, &wire.ParameterBinding{
			Name: name,
			Data: d.marshaller.ToWire(ctx, value),
		})
	}

	if returnValue != nil {
		response.ReturnValue = d.marshaller.ToWire(ctx, returnValue)
	}

	response.Result = wire.SuccessResult()
}

// runHandler runs the middleware chain and the function, converting panics to errors
func (d *Dispatcher) runHandler(ctx context.Context,
	invocationContext *invocation.Context) (returnValue interface{}, returnErr error) {
	defer func() {
		if recoveredErr := recover(); recoveredErr != nil {
			callStack := string(debug.Stack())

			invocationContext.Logger.ErrorWith("Panic caught in function",
				"err", recoveredErr,
				"stack", callStack)

			returnValue = nil
			returnErr = &PanicError{Value: recoveredErr, Stack: callStack}
		}
	}()

	return d.handler(ctx, invocationContext)
}

func invokeFunction(ctx context.Context, invocationContext *invocation.Context) (interface{}, error) {
	if invocationContext.Function == nil {
		return nil, errors.Errorf("Function %s has no implementation", invocationContext.Descriptor.Name)
	}

	return invocationContext.Function.Invoke(ctx, invocationContext)
}
