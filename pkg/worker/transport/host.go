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

package transport

import (
	"context"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"google.golang.org/grpc"
)

// HostStream is the host side of an event stream
type HostStream interface {
	Send(message *wire.StreamingMessage) error
	Recv() (*wire.StreamingMessage, error)
	Context() context.Context
}

// FunctionRpcServer is implemented by hosts serving worker event streams
type FunctionRpcServer interface {
	EventStream(stream HostStream) error
}

var functionRpcServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FunctionRpcServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    EventStreamName,
			Handler:       eventStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "nuclioworker.proto",
}

// NewHostServer creates a grpc server that speaks the worker's codec
func NewHostServer(serverOptions ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(wire.Codec{})}, serverOptions...)...)
}

// RegisterHostServer serves the event stream on server
func RegisterHostServer(server *grpc.Server, host FunctionRpcServer) {
	server.RegisterService(&functionRpcServiceDesc, host)
}

func eventStreamHandler(srv interface{}, serverStream grpc.ServerStream) error {
	return srv.(FunctionRpcServer).EventStream(&hostStream{serverStream: serverStream})
}

type hostStream struct {
	serverStream grpc.ServerStream
}

func (hs *hostStream) Send(message *wire.StreamingMessage) error {
	return hs.serverStream.SendMsg(message)
}

func (hs *hostStream) Recv() (*wire.StreamingMessage, error) {
	message := &wire.StreamingMessage{}
	if err := hs.serverStream.RecvMsg(message); err != nil {
		return nil, err
	}

	return message, nil
}

func (hs *hostStream) Context() context.Context {
	return hs.serverStream.Context()
}
