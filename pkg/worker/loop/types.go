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
	"time"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"
)

// Stream is one duplex event stream to the host
type Stream interface {
	Send(message *wire.StreamingMessage) error
	Recv() (*wire.StreamingMessage, error)
	CloseSend() error
}

// StreamOpener opens the event stream. The stream must be bound to ctx, so that cancelling ctx
// unblocks Recv
type StreamOpener func(ctx context.Context) (Stream, error)

// Configuration of a worker loop
type Configuration struct {
	WorkerID           string
	MinimumHostVersion string
	Capabilities       map[string]string

	// how long in flight handlers are given to finish once the stream ends
	ShutdownGracePeriod time.Duration
}

const DefaultShutdownGracePeriod = 30 * time.Second

// DefaultCapabilities are advertised to the host on init
func DefaultCapabilities() map[string]string {
	return map[string]string{
		"RawHttpBodyBytes":               "true",
		"TypedDataCollection":            "true",
		"RpcHttpBodyOnly":                "true",
		"RpcHttpTriggerMetadataRemoved":  "true",
		"WorkerStatus":                   "true",
		"HandlesWorkerTerminateMessage":  "true",
		"HandlesInvocationCancelMessage": "true",
		"MultiStream":                    "false",
	}
}

type handlerFunc func(ctx context.Context, requestID string, message *wire.StreamingMessage) (*wire.StreamingMessage, error)
