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
	"fmt"

	"github.com/nuclio/nuclio-worker/pkg/worker/outputchannel"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/logger"
)

// RPCLogger is a logger that streams records to the host as RpcLog messages
type RPCLogger struct {
	writer       outputchannel.Writer
	requestID    string
	invocationID string
	category     string
}

func NewRPCLogger(writer outputchannel.Writer, requestID string, invocationID string, category string) *RPCLogger {
	return &RPCLogger{
		writer:       writer,
		requestID:    requestID,
		invocationID: invocationID,
		category:     category,
	}
}

func (rl *RPCLogger) Error(format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelError, format, vars)
}

func (rl *RPCLogger) Warn(format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelWarning, format, vars)
}

func (rl *RPCLogger) Info(format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelInformation, format, vars)
}

func (rl *RPCLogger) Debug(format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelDebug, format, vars)
}

func (rl *RPCLogger) ErrorCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelError, format, vars)
}

func (rl *RPCLogger) WarnCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelWarning, format, vars)
}

func (rl *RPCLogger) InfoCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelInformation, format, vars)
}

func (rl *RPCLogger) DebugCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emit(wire.RpcLogLevelDebug, format, vars)
}

func (rl *RPCLogger) ErrorWith(format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelError, format, vars)
}

func (rl *RPCLogger) WarnWith(format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelWarning, format, vars)
}

func (rl *RPCLogger) InfoWith(format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelInformation, format, vars)
}

func (rl *RPCLogger) DebugWith(format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelDebug, format, vars)
}

func (rl *RPCLogger) ErrorWithCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelError, format, vars)
}

func (rl *RPCLogger) WarnWithCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelWarning, format, vars)
}

func (rl *RPCLogger) InfoWithCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelInformation, format, vars)
}

func (rl *RPCLogger) DebugWithCtx(ctx context.Context, format interface{}, vars ...interface{}) {
	rl.emitWith(wire.RpcLogLevelDebug, format, vars)
}

// Flush does nothing, records are queued as they are emitted
func (rl *RPCLogger) Flush() {}

func (rl *RPCLogger) GetChild(name string) logger.Logger {
	category := name
	if rl.category != "" {
		category = rl.category + "." + name
	}

	return NewRPCLogger(rl.writer, rl.requestID, rl.invocationID, category)
}

func (rl *RPCLogger) emit(level wire.RpcLogLevel, format interface{}, vars []interface{}) {
	message := fmt.Sprint(format)
	if formatString, isString := format.(string); isString && len(vars) > 0 {
		message = fmt.Sprintf(formatString, vars...)
	}

	rl.write(level, message, nil)
}

func (rl *RPCLogger) emitWith(level wire.RpcLogLevel, format interface{}, vars []interface{}) {
	properties := map[string]string{}

	for idx := 0; idx+1 < len(vars); idx += 2 {
		properties[fmt.Sprint(vars[idx])] = fmt.Sprint(vars[idx+1])
	}

	// odd var count, keep the dangling key
	if len(vars)%2 == 1 {
		properties[fmt.Sprint(vars[len(vars)-1])] = ""
	}

	rl.write(level, fmt.Sprint(format), properties)
}

func (rl *RPCLogger) write(level wire.RpcLogLevel, message string, properties map[string]string) {
	if len(properties) == 0 {
		properties = nil
	}

	rl.writer.Write(wire.NewRpcLog(rl.requestID, &wire.RpcLog{
		InvocationID: rl.invocationID,
		Category:     rl.category,
		Level:        level,
		Message:      message,
		Properties:   properties,
	}))
}
