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

package wire

// Status is the outcome of a request handled by the worker
type Status int

const (
	StatusFailure Status = iota
	StatusSuccess
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusFailure:
		return "failure"
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	}

	return "unknown"
}

// RpcException describes an error raised while handling a request
type RpcException struct {
	Source     string `msgpack:"source,omitempty"`
	StackTrace string `msgpack:"stackTrace,omitempty"`
	Message    string `msgpack:"message,omitempty"`
}

// StatusResult is attached to every response
type StatusResult struct {
	Status    Status        `msgpack:"status"`
	Result    string        `msgpack:"result,omitempty"`
	Exception *RpcException `msgpack:"exception,omitempty"`
	Logs      []*RpcLog     `msgpack:"logs,omitempty"`
}

// BindingDirection is the direction of a binding
type BindingDirection string

const (
	BindingDirectionIn    BindingDirection = "in"
	BindingDirectionOut   BindingDirection = "out"
	BindingDirectionInOut BindingDirection = "inout"
)

// BindingInfo describes a single binding of a function, as sent by the host
type BindingInfo struct {
	Type       string            `msgpack:"type"`
	Direction  BindingDirection  `msgpack:"direction"`
	DataType   string            `msgpack:"dataType,omitempty"`
	Properties map[string]string `msgpack:"properties,omitempty"`
}

// RpcFunctionMetadata describes a function the host asks the worker to load
type RpcFunctionMetadata struct {
	Name        string                  `msgpack:"name"`
	Directory   string                  `msgpack:"directory,omitempty"`
	ScriptFile  string                  `msgpack:"scriptFile,omitempty"`
	EntryPoint  string                  `msgpack:"entryPoint"`
	Bindings    map[string]*BindingInfo `msgpack:"bindings,omitempty"`
	RawBindings []string                `msgpack:"rawBindings,omitempty"`
	IsProxy     bool                    `msgpack:"isProxy,omitempty"`
	Properties  map[string]string       `msgpack:"properties,omitempty"`
}

// RpcTraceContext carries distributed tracing context for an invocation
type RpcTraceContext struct {
	TraceParent string            `msgpack:"traceParent,omitempty"`
	TraceState  string            `msgpack:"traceState,omitempty"`
	Attributes  map[string]string `msgpack:"attributes,omitempty"`
}

// RetryContext describes the retry state of an invocation
type RetryContext struct {
	RetryCount    int32         `msgpack:"retryCount"`
	MaxRetryCount int32         `msgpack:"maxRetryCount"`
	Exception     *RpcException `msgpack:"exception,omitempty"`
}

// RpcLogLevel is the level of a log record streamed to the host
type RpcLogLevel string

const (
	RpcLogLevelTrace       RpcLogLevel = "trace"
	RpcLogLevelDebug       RpcLogLevel = "debug"
	RpcLogLevelInformation RpcLogLevel = "information"
	RpcLogLevelWarning     RpcLogLevel = "warning"
	RpcLogLevelError       RpcLogLevel = "error"
)

// StartStream is the first message the worker sends on a new stream
type StartStream struct {
	WorkerID string `msgpack:"workerId"`
}

type WorkerInitRequest struct {
	HostVersion          string            `msgpack:"hostVersion"`
	Capabilities         map[string]string `msgpack:"capabilities,omitempty"`
	LogCategories        map[string]string `msgpack:"logCategories,omitempty"`
	WorkerDirectory      string            `msgpack:"workerDirectory,omitempty"`
	FunctionAppDirectory string            `msgpack:"functionAppDirectory,omitempty"`
}

type WorkerMetadata struct {
	RuntimeName    string            `msgpack:"runtimeName"`
	RuntimeVersion string            `msgpack:"runtimeVersion"`
	WorkerVersion  string            `msgpack:"workerVersion"`
	WorkerBitness  string            `msgpack:"workerBitness"`
	CustomProps    map[string]string `msgpack:"customProperties,omitempty"`
}

type WorkerInitResponse struct {
	WorkerVersion  string            `msgpack:"workerVersion"`
	Capabilities   map[string]string `msgpack:"capabilities,omitempty"`
	WorkerMetadata *WorkerMetadata   `msgpack:"workerMetadata,omitempty"`
	Result         *StatusResult     `msgpack:"result"`
}

type FunctionLoadRequest struct {
	FunctionID               string               `msgpack:"functionId"`
	Metadata                 *RpcFunctionMetadata `msgpack:"metadata"`
	ManagedDependencyEnabled bool                 `msgpack:"managedDependencyEnabled,omitempty"`
}

type FunctionLoadResponse struct {
	FunctionID             string        `msgpack:"functionId"`
	Result                 *StatusResult `msgpack:"result"`
	IsDependencyDownloaded bool          `msgpack:"isDependencyDownloaded,omitempty"`
}

type FunctionLoadRequestCollection struct {
	FunctionLoadRequests []*FunctionLoadRequest `msgpack:"functionLoadRequests"`
}

type FunctionLoadResponseCollection struct {
	FunctionLoadResponses []*FunctionLoadResponse `msgpack:"functionLoadResponses"`
}

type InvocationRequest struct {
	InvocationID    string                `msgpack:"invocationId"`
	FunctionID      string                `msgpack:"functionId"`
	InputData       []*ParameterBinding   `msgpack:"inputData,omitempty"`
	TriggerMetadata map[string]*TypedData `msgpack:"triggerMetadata,omitempty"`
	TraceContext    *RpcTraceContext      `msgpack:"traceContext,omitempty"`
	RetryContext    *RetryContext         `msgpack:"retryContext,omitempty"`
}

type InvocationResponse struct {
	InvocationID string              `msgpack:"invocationId"`
	OutputData   []*ParameterBinding `msgpack:"outputData,omitempty"`
	ReturnValue  *TypedData          `msgpack:"returnValue,omitempty"`
	Result       *StatusResult       `msgpack:"result"`
}

type FunctionEnvironmentReloadRequest struct {
	EnvironmentVariables map[string]string `msgpack:"environmentVariables,omitempty"`
	FunctionAppDirectory string            `msgpack:"functionAppDirectory,omitempty"`
}

type FunctionEnvironmentReloadResponse struct {
	WorkerMetadata *WorkerMetadata   `msgpack:"workerMetadata,omitempty"`
	Capabilities   map[string]string `msgpack:"capabilities,omitempty"`
	Result         *StatusResult     `msgpack:"result"`
}

type WorkerStatusRequest struct{}

// ProcessStats is a snapshot of the worker process resource usage
type ProcessStats struct {
	RSSBytes      uint64  `msgpack:"rssBytes"`
	CPUPercent    float64 `msgpack:"cpuPercent"`
	NumGoroutines int     `msgpack:"numGoroutines"`
	InFlight      int64   `msgpack:"inFlight"`
}

type WorkerStatusResponse struct {
	ProcessStats *ProcessStats `msgpack:"processStats,omitempty"`
	Result       *StatusResult `msgpack:"result,omitempty"`
}

type InvocationCancel struct {
	InvocationID  string `msgpack:"invocationId"`
	GracePeriodMs int64  `msgpack:"gracePeriodMs,omitempty"`
}

type WorkerTerminate struct {
	GracePeriodMs int64 `msgpack:"gracePeriodMs,omitempty"`
}

// RpcLog is a log record emitted by a function (or the worker) and streamed to the host
type RpcLog struct {
	InvocationID string            `msgpack:"invocationId,omitempty"`
	Category     string            `msgpack:"category,omitempty"`
	Level        RpcLogLevel       `msgpack:"level"`
	Message      string            `msgpack:"message"`
	EventID      string            `msgpack:"eventId,omitempty"`
	Exception    *RpcException     `msgpack:"exception,omitempty"`
	Properties   map[string]string `msgpack:"properties,omitempty"`
}
