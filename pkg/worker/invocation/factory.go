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

package invocation

import (
	"context"

	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/outputchannel"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

// Factory builds invocation contexts from invocation requests
type Factory struct {
	logger     logger.Logger
	resolver   Resolver
	marshaller *marshaller.Marshaller
	logWriter  outputchannel.Writer
}

// NewFactory creates a factory. When logWriter is nil, function logs only go to the worker log
func NewFactory(parentLogger logger.Logger,
	resolver Resolver,
	marshaller *marshaller.Marshaller,
	logWriter outputchannel.Writer) *Factory {
	return &Factory{
		logger:     parentLogger.GetChild("invocation"),
		resolver:   resolver,
		marshaller: marshaller,
		logWriter:  logWriter,
	}
}

// Create resolves the invoked function and builds the context of the invocation
func (f *Factory) Create(ctx context.Context,
	requestID string,
	request *wire.InvocationRequest) (*Context, error) {
	if request == nil {
		return nil, errors.New("Invocation request is empty")
	}

	descriptor, function, err := f.resolver.ResolveFunction(request.FunctionID)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to resolve function %s", request.FunctionID)
	}

	inputs := make(map[string]*wire.TypedData, len(request.InputData))
	for _, parameterBinding := range request.InputData {
		if parameterBinding == nil {
			continue
		}

		inputs[parameterBinding.Name] = parameterBinding.Data
	}

	functionLogger, err := f.createFunctionLogger(requestID, request.InvocationID, descriptor)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create function logger")
	}

	invocationContext := &Context{
		InvocationID:    request.InvocationID,
		RequestID:       requestID,
		Descriptor:      descriptor,
		Function:        function,
		TraceContext:    request.TraceContext,
		RetryContext:    request.RetryContext,
		Logger:          functionLogger,
		Features:        NewFeatures(),
		marshaller:      f.marshaller,
		inputs:          inputs,
		triggerMetadata: request.TriggerMetadata,
		outputs:         map[string]interface{}{},
	}

	invocationContext.Features.Set(FeatureDescriptor, descriptor)
	invocationContext.Features.Set(FeatureInputBindings, descriptor.InputBindings)
	invocationContext.Features.Set(FeatureFunctionLogger, functionLogger)

	return invocationContext, nil
}

func (f *Factory) createFunctionLogger(requestID string,
	invocationID string,
	descriptor *Descriptor) (logger.Logger, error) {
	systemLogger := f.logger.GetChild(descriptor.Name)
	if f.logWriter == nil {
		return systemLogger, nil
	}

	return nucliozap.NewMuxLogger(systemLogger,
		NewRPCLogger(f.logWriter, requestID, invocationID, "function."+descriptor.Name))
}
