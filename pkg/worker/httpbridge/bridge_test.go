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

package httpbridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/common/headers"
	"github.com/nuclio/nuclio-worker/pkg/worker/dispatcher"
	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/nuclio-sdk-go"
	"github.com/nuclio/zap"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type bridgeResolver struct {
	descriptor *invocation.Descriptor
	function   invocation.Function
}

func (br *bridgeResolver) ResolveFunction(functionID string) (*invocation.Descriptor, invocation.Function, error) {
	if functionID != br.descriptor.FunctionID {
		return nil, nil, errors.Errorf("Function not found: %s", functionID)
	}

	return br.descriptor, br.function, nil
}

type BridgeTestSuite struct {
	suite.Suite
	logger  logger.Logger
	metrics *metrics.Metrics
	bridge  *Bridge
	ctx     context.Context
}

func (suite *BridgeTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.metrics, err = metrics.NewMetrics("test")
	suite.Require().NoError(err)

	suite.ctx = context.Background()
	suite.bridge = NewBridge(suite.logger, suite.metrics)
}

func (suite *BridgeTestSuite) TestPublishThenAwait() {
	httpContext := &fasthttp.RequestCtx{}

	completion := suite.bridge.PublishHTTPContext("i1", httpContext)
	suite.requireNotResolved(completion)

	awaitedContext, err := suite.bridge.AwaitHTTPContext(suite.ctx, "i1")
	suite.Require().NoError(err)
	suite.Require().Same(httpContext, awaitedContext)
	suite.requireNotResolved(completion)

	suite.bridge.CompleteInvocation("i1")
	suite.requireResolved(completion)
	suite.Require().NoError(completion.Err())
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestAwaitThenPublish() {
	httpContext := &fasthttp.RequestCtx{}
	awaitedContexts := make(chan *fasthttp.RequestCtx, 1)

	go func() {
		awaitedContext, err := suite.bridge.AwaitHTTPContext(suite.ctx, "i1")
		suite.Require().NoError(err)
		awaitedContexts <- awaitedContext
	}()

	// let the awaiter create the entry first
	suite.Require().Eventually(func() bool {
		return suite.bridge.Pending() == 1
	}, time.Second, time.Millisecond)

	completion := suite.bridge.PublishHTTPContext("i1", httpContext)

	select {
	case awaitedContext := <-awaitedContexts:
		suite.Require().Same(httpContext, awaitedContext)
	case <-time.After(5 * time.Second):
		suite.FailNow("Awaiter was not released")
	}

	suite.bridge.CompleteInvocation("i1")
	suite.requireResolved(completion)
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestCompleteBeforePublish() {
	suite.bridge.CompleteInvocation("i1")

	completion := suite.bridge.PublishHTTPContext("i1", &fasthttp.RequestCtx{})
	suite.requireResolved(completion)

	// not yet awaited
	suite.Require().Equal(1, suite.bridge.Pending())

	_, err := suite.bridge.AwaitHTTPContext(suite.ctx, "i1")
	suite.Require().NoError(err)
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestDuplicatesAreNoops() {
	firstContext := &fasthttp.RequestCtx{}

	firstCompletion := suite.bridge.PublishHTTPContext("i1", firstContext)
	secondCompletion := suite.bridge.PublishHTTPContext("i1", &fasthttp.RequestCtx{})
	suite.requireResolved(secondCompletion)
	suite.Require().Equal(ErrDuplicateHTTPContext, secondCompletion.Err())
	suite.requireNotResolved(firstCompletion)

	awaitedContext, err := suite.bridge.AwaitHTTPContext(suite.ctx, "i1")
	suite.Require().NoError(err)
	suite.Require().Same(firstContext, awaitedContext)

	suite.bridge.CompleteInvocation("i1")
	suite.bridge.CompleteInvocation("i1")
	suite.requireResolved(firstCompletion)
	suite.Require().NoError(firstCompletion.Err())
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestSignalsAfterRemoval() {
	suite.rendezvous("i1")
	suite.Require().Equal(0, suite.bridge.Pending())

	// a late completion must not recreate the entry
	suite.bridge.CompleteInvocation("i1")
	suite.Require().Equal(0, suite.bridge.Pending())

	// a late request for the same invocation is answered right away
	completion := suite.bridge.PublishHTTPContext("i1", &fasthttp.RequestCtx{})
	suite.requireResolved(completion)
	suite.Require().Equal(ErrInvocationFinished, completion.Err())

	_, err := suite.bridge.AwaitHTTPContext(suite.ctx, "i1")
	suite.Require().Equal(ErrInvocationFinished, err)

	suite.Require().Equal(0, suite.bridge.Pending())
	seriesCount, err := testutil.GatherAndCount(suite.metrics.Registry, "nuclio_worker_pending_http_correlations")
	suite.Require().NoError(err)
	suite.Require().Equal(1, seriesCount)
}

func (suite *BridgeTestSuite) TestFinishedInvocationsAreBounded() {
	suite.bridge.maxFinished = 2

	for _, invocationID := range []string{"i1", "i2", "i3"} {
		suite.rendezvous(invocationID)
	}

	suite.Require().Len(suite.bridge.finished, 2)
	suite.Require().Equal(2, suite.bridge.finishedOrder.Length())
	suite.Require().NotContains(suite.bridge.finished, "i1")

	// the forgotten id behaves like a new invocation
	suite.bridge.CompleteInvocation("i1")
	suite.Require().Equal(1, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestEvictForgetsFinished() {
	suite.rendezvous("i1")
	suite.Require().Len(suite.bridge.finished, 1)

	suite.Require().Equal(0, suite.bridge.Evict(time.Hour))
	suite.Require().Len(suite.bridge.finished, 1)

	suite.Require().Equal(0, suite.bridge.Evict(0))
	suite.Require().Empty(suite.bridge.finished)
}

func (suite *BridgeTestSuite) TestReleasedContextIsNotWritten() {
	httpContext := &fasthttp.RequestCtx{}
	correlationEntry := suite.bridge.publish("i1", httpContext)

	// the ingress gave up on the request, e.g. after an eviction or on shutdown
	correlationEntry.release()

	responseMarshaller := marshaller.NewMarshaller(suite.logger)
	invocationDispatcher := suite.createDispatcher(responseMarshaller, &invocation.Descriptor{
		FunctionID: "f1",
		Name:       "orders",
		IsProxy:    true,
	}, invocation.FunctionFunc(func(ctx context.Context, invocationContext *invocation.Context) (interface{}, error) {
		return marshaller.NewHTTPResponse(201, "late body"), nil
	}))

	message := invocationDispatcher.Dispatch(suite.ctx, "r1", &wire.InvocationRequest{
		InvocationID: "i1",
		FunctionID:   "f1",
	})

	suite.Require().True(message.Content.InvocationResponse.Result.IsSuccess())
	suite.Require().Empty(httpContext.Response.Body())
	suite.Require().Equal(fasthttp.StatusOK, httpContext.Response.StatusCode())
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestAwaitContextDone() {
	ctx, cancel := context.WithTimeout(suite.ctx, 20*time.Millisecond)
	defer cancel()

	_, err := suite.bridge.AwaitHTTPContext(ctx, "i1")
	suite.Require().Error(err)
	suite.Require().Equal(context.DeadlineExceeded, errors.RootCause(err))

	// the entry stays for a late publish
	suite.Require().Equal(1, suite.bridge.Pending())
	seriesCount, err := testutil.GatherAndCount(suite.metrics.Registry, "nuclio_worker_pending_http_correlations")
	suite.Require().NoError(err)
	suite.Require().Equal(1, seriesCount)
}

func (suite *BridgeTestSuite) TestEvict() {
	completion := suite.bridge.PublishHTTPContext("i1", &fasthttp.RequestCtx{})
	suite.bridge.PublishHTTPContext("i2", &fasthttp.RequestCtx{})

	suite.Require().Equal(0, suite.bridge.Evict(time.Hour))
	suite.Require().Equal(2, suite.bridge.Evict(0))
	suite.Require().Equal(0, suite.bridge.Pending())

	suite.requireResolved(completion)
	suite.Require().Equal(ErrCorrelationExpired, completion.Err())

	// late completion of an evicted invocation must not block or recreate the entry
	suite.bridge.CompleteInvocation("i1")
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestJanitorReleasesAwaiter() {
	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()

	go suite.bridge.RunJanitor(ctx, 10*time.Millisecond, 5*time.Millisecond)

	_, err := suite.bridge.AwaitHTTPContext(suite.ctx, "never-published")
	suite.Require().Equal(ErrCorrelationExpired, err)

	suite.Require().Eventually(func() bool {
		return suite.bridge.Pending() == 0
	}, time.Second, 5*time.Millisecond)
}

func (suite *BridgeTestSuite) TestJanitorDisabled() {
	finished := make(chan struct{})

	go func() {
		suite.bridge.RunJanitor(suite.ctx, 0, time.Millisecond)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		suite.FailNow("Janitor should return when expiry is disabled")
	}
}

func (suite *BridgeTestSuite) TestIngressRejectsMissingInvocationID() {
	client, ingress := suite.startIngress()
	defer ingress.Shutdown() // nolint: errcheck

	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	request.SetRequestURI("http://worker/orders")

	suite.Require().NoError(client.Do(request, response))
	suite.Require().Equal(fasthttp.StatusBadRequest, response.StatusCode())
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestProxiedInvocation() {
	client, ingress := suite.startIngress()
	defer ingress.Shutdown() // nolint: errcheck

	responseMarshaller := marshaller.NewMarshaller(suite.logger)

	function := invocation.FunctionFunc(func(ctx context.Context,
		invocationContext *invocation.Context) (interface{}, error) {
		httpContext, err := invocationContext.Features.MustGet(invocation.FeatureHTTPContext)
		suite.Require().NoError(err)
		suite.Require().Equal("/orders", string(httpContext.(*fasthttp.RequestCtx).Path()))

		response := marshaller.NewHTTPResponse(201, map[string]interface{}{"ok": true})
		response.Headers["X-Custom"] = "value"
		response.Cookies = []*wire.RpcHTTPCookie{{Name: "session", Value: "abc"}}

		return response, nil
	})

	invocationDispatcher := suite.createDispatcher(responseMarshaller, &invocation.Descriptor{
		FunctionID: "f1",
		Name:       "orders",
		IsProxy:    true,
	}, function)

	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	request.SetRequestURI("http://worker/orders")
	request.Header.Set(headers.InvocationID, "i1")

	clientErrors := make(chan error, 1)
	go func() {
		clientErrors <- client.Do(request, response)
	}()

	message := invocationDispatcher.Dispatch(suite.ctx, "r1", &wire.InvocationRequest{
		InvocationID: "i1",
		FunctionID:   "f1",
	})

	invocationResponse := message.Content.InvocationResponse
	suite.Require().True(invocationResponse.Result.IsSuccess())
	suite.Require().Nil(invocationResponse.ReturnValue)

	suite.Require().NoError(<-clientErrors)
	suite.Require().Equal(201, response.StatusCode())
	suite.Require().Equal("value", string(response.Header.Peek("X-Custom")))
	suite.Require().Equal("application/json", string(response.Header.ContentType()))
	suite.Require().JSONEq(`{"ok": true}`, string(response.Body()))
	suite.Require().Contains(string(response.Header.Peek("Set-Cookie")), "session=abc")
	suite.Require().NotEmpty(response.Header.Peek(headers.TraceID))
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestProxiedInvocationError() {
	client, ingress := suite.startIngress()
	defer ingress.Shutdown() // nolint: errcheck

	function := invocation.FunctionFunc(func(ctx context.Context,
		invocationContext *invocation.Context) (interface{}, error) {
		return nil, nuclio.ErrBadRequest
	})

	invocationDispatcher := suite.createDispatcher(marshaller.NewMarshaller(suite.logger), &invocation.Descriptor{
		FunctionID: "f1",
		Name:       "orders",
		InputBindings: map[string]*wire.BindingInfo{
			"req": {Type: invocation.HTTPTriggerBindingType, Direction: wire.BindingDirectionIn},
		},
	}, function)

	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	request.SetRequestURI("http://worker/orders")
	request.Header.Set(headers.InvocationID, "i2")

	clientErrors := make(chan error, 1)
	go func() {
		clientErrors <- client.Do(request, response)
	}()

	message := invocationDispatcher.Dispatch(suite.ctx, "r2", &wire.InvocationRequest{
		InvocationID: "i2",
		FunctionID:   "f1",
	})

	suite.Require().Equal(wire.StatusFailure, message.Content.InvocationResponse.Result.Status)
	suite.Require().NoError(<-clientErrors)
	suite.Require().Equal(fasthttp.StatusBadRequest, response.StatusCode())
}

func (suite *BridgeTestSuite) TestIngressRejectsFinishedInvocation() {
	client, ingress := suite.startIngress()
	defer ingress.Shutdown() // nolint: errcheck

	suite.rendezvous("i1")

	response, err := suite.sendRequest(client, "i1")
	suite.Require().NoError(err)
	suite.Require().Equal(fasthttp.StatusConflict, response.StatusCode())
	suite.Require().Equal(0, suite.bridge.Pending())
}

func (suite *BridgeTestSuite) TestIngressRejectsDuplicateRequest() {
	client, ingress := suite.startIngress()
	defer ingress.Shutdown() // nolint: errcheck

	firstCompletion := suite.bridge.PublishHTTPContext("i1", &fasthttp.RequestCtx{})

	response, err := suite.sendRequest(client, "i1")
	suite.Require().NoError(err)
	suite.Require().Equal(fasthttp.StatusConflict, response.StatusCode())
	suite.requireNotResolved(firstCompletion)
}

func (suite *BridgeTestSuite) TestIngressShutdownReleasesPendingRequest() {
	client, ingress := suite.startIngress()

	type result struct {
		response *fasthttp.Response
		err      error
	}

	results := make(chan result, 1)
	go func() {
		response, err := suite.sendRequest(client, "never-invoked")
		results <- result{response: response, err: err}
	}()

	suite.Require().Eventually(func() bool {
		return suite.bridge.Pending() == 1
	}, 5*time.Second, time.Millisecond)

	shutdownErrors := make(chan error, 1)
	go func() {
		shutdownErrors <- ingress.Shutdown()
	}()

	select {
	case err := <-shutdownErrors:
		suite.Require().NoError(err)
	case <-time.After(5 * time.Second):
		suite.FailNow("Shutdown blocked on a pending request")
	}

	select {
	case requestResult := <-results:
		suite.Require().NoError(requestResult.err)
		suite.Require().Equal(fasthttp.StatusServiceUnavailable, requestResult.response.StatusCode())
	case <-time.After(5 * time.Second):
		suite.FailNow("Pending request was not answered")
	}

	// a late invocation finds the request released and writes nothing
	correlationEntry, err := suite.bridge.await(suite.ctx, "never-invoked")
	suite.Require().NoError(err)
	suite.Require().False(correlationEntry.use(func(*fasthttp.RequestCtx) {
		suite.FailNow("Released context must not be written")
	}))
}

func (suite *BridgeTestSuite) TestNotProxied() {
	suite.Require().False(IsProxied(nil))
	suite.Require().False(IsProxied(&invocation.Descriptor{}))
	suite.Require().True(IsProxied(&invocation.Descriptor{IsProxy: true}))
}

func (suite *BridgeTestSuite) startIngress() (*fasthttp.Client, *Ingress) {
	listener := fasthttputil.NewInmemoryListener()
	ingress := NewIngress(suite.logger, suite.bridge, "")

	go ingress.Serve(listener) // nolint: errcheck

	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return listener.Dial()
		},
	}

	return client, ingress
}

// publishes, awaits and completes an invocation, leaving no entry behind
func (suite *BridgeTestSuite) rendezvous(invocationID string) {
	completion := suite.bridge.PublishHTTPContext(invocationID, &fasthttp.RequestCtx{})

	_, err := suite.bridge.AwaitHTTPContext(suite.ctx, invocationID)
	suite.Require().NoError(err)

	suite.bridge.CompleteInvocation(invocationID)
	suite.requireResolved(completion)
}

func (suite *BridgeTestSuite) sendRequest(client *fasthttp.Client, invocationID string) (*fasthttp.Response, error) {
	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)

	request.SetRequestURI("http://worker/orders")
	request.Header.Set(headers.InvocationID, invocationID)

	response := &fasthttp.Response{}
	err := client.Do(request, response)

	return response, err
}

func (suite *BridgeTestSuite) createDispatcher(responseMarshaller *marshaller.Marshaller,
	descriptor *invocation.Descriptor,
	function invocation.Function) *dispatcher.Dispatcher {
	factory := invocation.NewFactory(suite.logger,
		&bridgeResolver{descriptor: descriptor, function: function},
		responseMarshaller,
		nil)

	return dispatcher.NewDispatcher(suite.logger,
		factory,
		responseMarshaller,
		suite.metrics,
		suite.bridge.ProxyingMiddleware(responseMarshaller))
}

func (suite *BridgeTestSuite) requireResolved(signal *Signal) {
	select {
	case <-signal.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("Signal was not resolved")
	}
}

func (suite *BridgeTestSuite) requireNotResolved(signal *Signal) {
	select {
	case <-signal.Done():
		suite.FailNow("Signal resolved unexpectedly")
	default:
	}
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
