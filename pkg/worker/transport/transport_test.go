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
	"testing"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/worker/dispatcher"
	"github.com/nuclio/nuclio-worker/pkg/worker/environment"
	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"
	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/loop"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"
	"github.com/nuclio/nuclio-worker/pkg/worker/outputchannel"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/google/go-cmp/cmp"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// fakeHost relays messages between the test and the worker
type fakeHost struct {
	toWorker   chan *wire.StreamingMessage
	fromWorker chan *wire.StreamingMessage
}

func (fh *fakeHost) EventStream(stream HostStream) error {
	readerDone := make(chan error, 1)

	go func() {
		for {
			message, err := stream.Recv()
			if err != nil {
				readerDone <- err
				return
			}

			fh.fromWorker <- message
		}
	}()

	for {
		select {
		case message := <-fh.toWorker:
			if err := stream.Send(message); err != nil {
				return err
			}
		case <-readerDone:
			return nil
		case <-stream.Context().Done():
			return nil
		}
	}
}

type TransportTestSuite struct {
	suite.Suite
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	listener *bufconn.Listener
	server   *grpc.Server
	host     *fakeHost
}

func (suite *TransportTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 30*time.Second)

	suite.host = &fakeHost{
		toWorker:   make(chan *wire.StreamingMessage, 16),
		fromWorker: make(chan *wire.StreamingMessage, 128),
	}

	suite.listener = bufconn.Listen(1024 * 1024)
	suite.server = NewHostServer()
	RegisterHostServer(suite.server, suite.host)

	go suite.server.Serve(suite.listener) // nolint: errcheck
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.cancel()
	suite.server.Stop()
}

func (suite *TransportTestSuite) TestStreamRoundTrip() {
	client := suite.dial(0)
	defer client.Close() // nolint: errcheck

	stream, err := client.OpenStream(suite.ctx)
	suite.Require().NoError(err)

	suite.Require().NoError(stream.Send(wire.NewStartStream("w1")))
	suite.Require().Equal("w1", suite.receive().Content.StartStream.WorkerID)

	request := &wire.StreamingMessage{
		RequestID: "r1",
		Content: wire.Content{InvocationRequest: &wire.InvocationRequest{
			InvocationID: "i1",
			FunctionID:   "f1",
			InputData: []*wire.ParameterBinding{
				{Name: "in", Data: &wire.TypedData{Kind: wire.DataKindCollectionSint64, CollectionSint64: []int64{1, -2}}},
			},
		}},
	}
	suite.host.toWorker <- request

	received, err := stream.Recv()
	suite.Require().NoError(err)
	suite.Require().Empty(cmp.Diff(request, received))
}

func (suite *TransportTestSuite) TestMessageTooLarge() {
	client := suite.dial(1024)
	defer client.Close() // nolint: errcheck

	stream, err := client.OpenStream(suite.ctx)
	suite.Require().NoError(err)

	err = stream.Send(&wire.StreamingMessage{
		RequestID: "r1",
		Content: wire.Content{RpcLog: &wire.RpcLog{
			Level:   wire.RpcLogLevelInformation,
			Message: string(make([]byte, 4096)),
		}},
	})
	suite.Require().Error(err)
}

func (suite *TransportTestSuite) TestWorkerOverTransport() {
	client := suite.dial(0)
	defer client.Close() // nolint: errcheck

	workerLoop := suite.createLoop()

	runErrors := make(chan error, 1)
	go func() {
		runErrors <- workerLoop.Run(suite.ctx, client.OpenStream)
	}()

	suite.Require().Equal("w1", suite.receive().Content.StartStream.WorkerID)

	suite.host.toWorker <- &wire.StreamingMessage{
		RequestID: "r1",
		Content:   wire.Content{WorkerInitRequest: &wire.WorkerInitRequest{HostVersion: "4.0.0"}},
	}
	suite.Require().True(suite.receive().Content.WorkerInitResponse.Result.IsSuccess())

	suite.host.toWorker <- &wire.StreamingMessage{
		RequestID: "r2",
		Content: wire.Content{FunctionLoadRequest: &wire.FunctionLoadRequest{
			FunctionID: "f1",
			Metadata: &wire.RpcFunctionMetadata{
				Name:       "echo",
				EntryPoint: functionregistry.EchoEntryPoint,
				Bindings: map[string]*wire.BindingInfo{
					"in": {Type: "queueTrigger", Direction: wire.BindingDirectionIn},
				},
			},
		}},
	}
	suite.Require().True(suite.receive().Content.FunctionLoadResponse.Result.IsSuccess())

	suite.host.toWorker <- &wire.StreamingMessage{
		RequestID: "r3",
		Content: wire.Content{InvocationRequest: &wire.InvocationRequest{
			InvocationID: "i1",
			FunctionID:   "f1",
			InputData: []*wire.ParameterBinding{
				{Name: "in", Data: &wire.TypedData{Kind: wire.DataKindString, String: "hello"}},
			},
		}},
	}

	var functionLogs []*wire.RpcLog
	var invocationResponse *wire.StreamingMessage

	for invocationResponse == nil {
		message := suite.receive()

		switch {
		case message.Content.RpcLog != nil:
			functionLogs = append(functionLogs, message.Content.RpcLog)
		case message.Content.InvocationResponse != nil:
			invocationResponse = message
		}
	}

	suite.Require().Equal("r3", invocationResponse.RequestID)
	suite.Require().True(invocationResponse.Content.InvocationResponse.Result.IsSuccess())
	suite.Require().JSONEq(`{"in": "hello"}`, invocationResponse.Content.InvocationResponse.ReturnValue.JSON)

	suite.Require().NotEmpty(functionLogs)
	suite.Require().Equal("i1", functionLogs[0].InvocationID)
	suite.Require().Equal("function.echo", functionLogs[0].Category)

	suite.host.toWorker <- &wire.StreamingMessage{
		RequestID: "r4",
		Content:   wire.Content{WorkerTerminate: &wire.WorkerTerminate{}},
	}

	select {
	case err := <-runErrors:
		suite.Require().NoError(err)
	case <-time.After(10 * time.Second):
		suite.FailNow("Worker did not terminate")
	}
}

func (suite *TransportTestSuite) dial(maxMessageLength int) *Client {
	client, err := Dial(suite.ctx, suite.logger, &Options{
		Host:             "bufnet",
		Port:             0,
		MaxMessageLength: maxMessageLength,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, address string) (net.Conn, error) {
				return suite.listener.DialContext(ctx)
			}),
		},
	})
	suite.Require().NoError(err)

	return client
}

func (suite *TransportTestSuite) createLoop() *loop.Loop {
	workerMetrics, err := metrics.NewMetrics("w1")
	suite.Require().NoError(err)

	outputChannel := outputchannel.NewOutputChannel()
	registry := functionregistry.NewRegistry(suite.logger)
	invocationMarshaller := marshaller.NewMarshaller(suite.logger)
	factory := invocation.NewFactory(suite.logger, registry, invocationMarshaller, outputChannel)

	workerLoop, err := loop.NewLoop(suite.logger,
		&loop.Configuration{WorkerID: "w1", MinimumHostVersion: "1.0.0"},
		outputChannel,
		registry,
		functionregistry.NewCatalog(),
		dispatcher.NewDispatcher(suite.logger, factory, invocationMarshaller, workerMetrics),
		environment.NewReloader(suite.logger),
		workerMetrics)
	suite.Require().NoError(err)

	return workerLoop
}

func (suite *TransportTestSuite) receive() *wire.StreamingMessage {
	select {
	case message := <-suite.host.fromWorker:
		return message
	case <-time.After(10 * time.Second):
		suite.FailNow("Timed out waiting for a worker message")
		return nil
	}
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
