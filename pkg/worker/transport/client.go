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
	"net"
	"strconv"

	"github.com/nuclio/nuclio-worker/pkg/worker/loop"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ServiceName             = "nuclioworker.FunctionRpc"
	EventStreamName         = "EventStream"
	EventStreamMethod       = "/" + ServiceName + "/" + EventStreamName
	DefaultMaxMessageLength = 128 * 1024 * 1024
)

var eventStreamDesc = grpc.StreamDesc{
	StreamName:    EventStreamName,
	ServerStreams: true,
	ClientStreams: true,
}

// Options configure the connection to the host
type Options struct {
	Host             string
	Port             int
	MaxMessageLength int

	// appended to the defaults, mainly so tests can dial in memory listeners
	DialOptions []grpc.DialOption
}

// Address returns the host address to dial
func (o *Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Client is a connection to the host
type Client struct {
	logger     logger.Logger
	options    *Options
	connection *grpc.ClientConn
}

// Dial connects to the host. Messages are encoded with the msgpack codec in both directions
func Dial(ctx context.Context, parentLogger logger.Logger, options *Options) (*Client, error) {
	maxMessageLength := options.MaxMessageLength
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}

	newClient := &Client{
		logger:  parentLogger.GetChild("transport"),
		options: options,
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wire.Codec{}),
			grpc.MaxCallRecvMsgSize(maxMessageLength),
			grpc.MaxCallSendMsgSize(maxMessageLength)),
	}, options.DialOptions...)

	newClient.logger.DebugWith("Dialing host",
		"address", options.Address(),
		"maxMessageLength", maxMessageLength)

	var err error
	newClient.connection, err = grpc.DialContext(ctx, options.Address(), dialOptions...)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to dial host at %s", options.Address())
	}

	return newClient, nil
}

// OpenStream opens the event stream. The stream ends when ctx is done
func (c *Client) OpenStream(ctx context.Context) (loop.Stream, error) {
	clientStream, err := c.connection.NewStream(ctx, &eventStreamDesc, EventStreamMethod)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open event stream")
	}

	c.logger.DebugWith("Opened event stream", "method", EventStreamMethod)

	return &eventStream{clientStream: clientStream}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.connection.Close()
}

type eventStream struct {
	clientStream grpc.ClientStream
}

func (es *eventStream) Send(message *wire.StreamingMessage) error {
	return es.clientStream.SendMsg(message)
}

func (es *eventStream) Recv() (*wire.StreamingMessage, error) {
	message := &wire.StreamingMessage{}
	if err := es.clientStream.RecvMsg(message); err != nil {
		return nil, err
	}

	return message, nil
}

func (es *eventStream) CloseSend() error {
	return es.clientStream.CloseSend()
}
