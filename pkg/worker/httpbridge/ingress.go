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
	net_http "net/http"

	"github.com/nuclio/nuclio-worker/pkg/common/headers"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
	"github.com/valyala/fasthttp"
)

var errIngressShutdown = errors.New("HTTP ingress is shutting down")

// Ingress receives HTTP requests proxied by the host and hands them to the bridge. The handler
// blocks until the serving invocation completes so the response it wrote is the one sent
type Ingress struct {
	logger        logger.Logger
	bridge        *Bridge
	listenAddress string
	server        *fasthttp.Server

	// done on Shutdown, releasing requests still waiting on their invocation
	ctx    context.Context
	cancel context.CancelFunc
}

func NewIngress(parentLogger logger.Logger, bridge *Bridge, listenAddress string) *Ingress {
	newIngress := &Ingress{
		logger:        parentLogger.GetChild("ingress"),
		bridge:        bridge,
		listenAddress: listenAddress,
	}

	newIngress.ctx, newIngress.cancel = context.WithCancel(context.Background())
	newIngress.server = &fasthttp.Server{
		Handler: newIngress.requestHandler,
		Name:    "nuclio-worker",
	}

	return newIngress
}

// ListenAndServe serves on the configured address until Shutdown
func (i *Ingress) ListenAndServe() error {
	listener, err := net.Listen("tcp", i.listenAddress)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen on %s", i.listenAddress)
	}

	return i.Serve(listener)
}

// Serve serves on the given listener until Shutdown
func (i *Ingress) Serve(listener net.Listener) error {
	i.logger.InfoWith("Serving HTTP ingress", "address", listener.Addr().String())

	if err := i.server.Serve(listener); err != nil {
		return errors.Wrap(err, "HTTP ingress failed")
	}

	return nil
}

// Shutdown stops the server. Requests still waiting on their invocation are answered with 503
func (i *Ingress) Shutdown() error {
	i.cancel()

	return i.server.Shutdown()
}

func (i *Ingress) requestHandler(ctx *fasthttp.RequestCtx) {
	invocationID := string(ctx.Request.Header.Peek(headers.InvocationID))
	if invocationID == "" {
		i.logger.WarnWith("Rejecting request without invocation id",
			"method", string(ctx.Method()),
			"uri", string(ctx.RequestURI()))

		ctx.Error("Missing "+headers.InvocationID+" header", net_http.StatusBadRequest)
		return
	}

	traceID := xid.New().String()

	i.logger.DebugWith("Publishing HTTP context",
		"invocationID", invocationID,
		"traceID", traceID)

	correlationEntry := i.bridge.publish(invocationID, ctx)

	select {
	case <-correlationEntry.completed.Done():
	case <-i.ctx.Done():
	}

	// the invocation may still hold the context
	correlationEntry.release()

	if err := completionError(correlationEntry.completed); err != nil {
		i.logger.WarnWith("Invocation did not complete",
			"invocationID", invocationID,
			"traceID", traceID,
			"err", err.Error())

		ctx.Error(err.Error(), statusCodeOf(err))
		return
	}

	ctx.Response.Header.Set(headers.TraceID, traceID)

	i.logger.DebugWith("Invocation completed",
		"invocationID", invocationID,
		"traceID", traceID,
		"statusCode", ctx.Response.StatusCode())
}

func completionError(completion *Signal) error {
	select {
	case <-completion.Done():
		return completion.Err()
	default:
		return errIngressShutdown
	}
}

func statusCodeOf(err error) int {
	switch err {
	case ErrDuplicateHTTPContext, ErrInvocationFinished:
		return net_http.StatusConflict
	case errIngressShutdown:
		return net_http.StatusServiceUnavailable
	default:
		return net_http.StatusGatewayTimeout
	}
}
