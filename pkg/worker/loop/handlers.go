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
	"runtime"

	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/coreos/go-semver/semver"
	"github.com/nuclio/errors"
	"github.com/v3io/version-go"
)

const (
	runtimeName    = "golang"
	workerSource   = "worker"
	unknownVersion = "unstable"
)

func (l *Loop) handleWorkerInit(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	request := message.Content.WorkerInitRequest

	l.logger.InfoWith("Received init request",
		"hostVersion", request.HostVersion,
		"workerDirectory", request.WorkerDirectory,
		"functionAppDirectory", request.FunctionAppDirectory)

	if err := l.validateHostVersion(request.HostVersion); err != nil {
		return nil, err
	}

	return wire.NewWorkerInitResponse(requestID, &wire.WorkerInitResponse{
		WorkerVersion:  workerVersion(),
		Capabilities:   l.configuration.Capabilities,
		WorkerMetadata: workerMetadata(),
		Result:         wire.SuccessResult(),
	}), nil
}

func (l *Loop) handleFunctionLoad(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	return wire.NewFunctionLoadResponse(requestID, l.loadFunction(message.Content.FunctionLoadRequest)), nil
}

func (l *Loop) handleFunctionLoadCollection(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	responses := &wire.FunctionLoadResponseCollection{}

	// each function loads independently of the others
	for _, request := range message.Content.FunctionLoadRequestCollection.FunctionLoadRequests {
		responses.FunctionLoadResponses = append(responses.FunctionLoadResponses, l.loadFunction(request))
	}

	return wire.NewFunctionLoadResponseCollection(requestID, responses), nil
}

func (l *Loop) handleInvocation(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	l.metrics.IncInFlight()
	defer l.metrics.DecInFlight()

	return l.dispatcher.Dispatch(ctx, requestID, message.Content.InvocationRequest), nil
}

func (l *Loop) handleEnvironmentReload(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	if err := l.reloader.Reload(message.Content.EnvironmentReloadRequest); err != nil {
		return nil, errors.Wrap(err, "Failed to reload environment")
	}

	return wire.NewEnvironmentReloadResponse(requestID, &wire.FunctionEnvironmentReloadResponse{
		WorkerMetadata: workerMetadata(),
		Capabilities:   l.configuration.Capabilities,
		Result:         wire.SuccessResult(),
	}), nil
}

func (l *Loop) handleWorkerStatus(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {
	processStats, err := collectProcessStats()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to collect process stats")
	}

	processStats.InFlight = l.InFlight()

	return wire.NewWorkerStatusResponse(requestID, &wire.WorkerStatusResponse{
		ProcessStats: processStats,
		Result:       wire.SuccessResult(),
	}), nil
}

func (l *Loop) handleInvocationCancel(ctx context.Context,
	requestID string,
	message *wire.StreamingMessage) (*wire.StreamingMessage, error) {

	// running invocations are not interrupted
	l.logger.InfoWith("Ignoring invocation cancel",
		"invocationID", message.Content.InvocationCancel.InvocationID,
		"gracePeriodMs", message.Content.InvocationCancel.GracePeriodMs)

	return nil, nil
}

func (l *Loop) loadFunction(request *wire.FunctionLoadRequest) *wire.FunctionLoadResponse {
	response := &wire.FunctionLoadResponse{}
	if request != nil {
		response.FunctionID = request.FunctionID
	}

	definition, err := functionregistry.NewDefinitionFromLoadRequest(request, l.catalog)
	if err != nil {
		l.logger.WarnWith("Failed to create function definition",
			"functionID", response.FunctionID,
			"err", errors.GetErrorStackString(err, 10))

		response.Result = wire.FailureResult(workerSource, err)
		return response
	}

	if err := l.registry.Register(definition); err != nil {
		response.Result = wire.FailureResult(workerSource, err)
		return response
	}

	l.metrics.SetLoadedFunctions(l.registry.Len())

	l.logger.InfoWith("Loaded function",
		"functionID", definition.FunctionID,
		"name", definition.Name,
		"entryPoint", definition.EntryPoint)

	response.Result = wire.SuccessResult()
	return response
}

func (l *Loop) validateHostVersion(hostVersion string) error {
	if l.configuration.MinimumHostVersion == "" {
		return nil
	}

	minimumVersion, err := semver.NewVersion(l.configuration.MinimumHostVersion)
	if err != nil {
		return errors.Wrapf(err, "Invalid minimum host version %s", l.configuration.MinimumHostVersion)
	}

	parsedHostVersion, err := semver.NewVersion(hostVersion)
	if err != nil {

		// hosts are not required to report semantic versions
		l.logger.WarnWith("Failed to parse host version, skipping check",
			"hostVersion", hostVersion,
			"err", err.Error())
		return nil
	}

	if parsedHostVersion.LessThan(*minimumVersion) {
		return errors.Errorf("Host version %s is older than the minimum supported %s",
			hostVersion,
			l.configuration.MinimumHostVersion)
	}

	return nil
}

// failureResponse converts a handler failure into the response the host expects for kind
func failureResponse(kind wire.ContentKind,
	message *wire.StreamingMessage,
	err error,
	stack string) *wire.StreamingMessage {
	result := wire.FailureResult(workerSource, err)
	if stack != "" {
		result = wire.FailureResultWithStack(workerSource, err, stack)
	}

	requestID := message.RequestID
	content := &message.Content

	switch wire.ResponseKindOf(kind) {
	case wire.ContentKindWorkerInitResponse:
		return wire.NewWorkerInitResponse(requestID, &wire.WorkerInitResponse{
			WorkerVersion: workerVersion(),
			Result:        result,
		})

	case wire.ContentKindFunctionLoadResponse:
		return wire.NewFunctionLoadResponse(requestID, &wire.FunctionLoadResponse{
			FunctionID: content.FunctionLoadRequest.FunctionID,
			Result:     result,
		})

	case wire.ContentKindFunctionLoadResponseCollection:
		responses := &wire.FunctionLoadResponseCollection{}
		for _, request := range content.FunctionLoadRequestCollection.FunctionLoadRequests {
			functionLoadResponse := &wire.FunctionLoadResponse{Result: result}
			if request != nil {
				functionLoadResponse.FunctionID = request.FunctionID
			}

			responses.FunctionLoadResponses = append(responses.FunctionLoadResponses, functionLoadResponse)
		}

		return wire.NewFunctionLoadResponseCollection(requestID, responses)

	case wire.ContentKindInvocationResponse:
		return wire.NewInvocationResponse(requestID, &wire.InvocationResponse{
			InvocationID: content.InvocationRequest.InvocationID,
			Result:       result,
		})

	case wire.ContentKindEnvironmentReloadResponse:
		return wire.NewEnvironmentReloadResponse(requestID, &wire.FunctionEnvironmentReloadResponse{
			Result: result,
		})

	case wire.ContentKindWorkerStatusResponse:
		return wire.NewWorkerStatusResponse(requestID, &wire.WorkerStatusResponse{
			Result: result,
		})
	}

	// ContentKindNone, the request expects no response
	return nil
}

func workerVersion() string {
	if versionInfo := version.Get(); versionInfo != nil && versionInfo.Label != "" {
		return versionInfo.Label
	}

	return unknownVersion
}

func workerMetadata() *wire.WorkerMetadata {
	return &wire.WorkerMetadata{
		RuntimeName:    runtimeName,
		RuntimeVersion: runtime.Version(),
		WorkerVersion:  workerVersion(),
		WorkerBitness:  runtime.GOARCH,
	}
}
