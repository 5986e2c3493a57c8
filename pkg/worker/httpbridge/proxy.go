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
	net_http "net/http"
	"strconv"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/common/headers"
	"github.com/nuclio/nuclio-worker/pkg/worker/dispatcher"
	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/nuclio-sdk-go"
	"github.com/valyala/fasthttp"
)

// IsProxied returns true if invocations of the function are served through the HTTP ingress
func IsProxied(descriptor *invocation.Descriptor) bool {
	if descriptor == nil {
		return false
	}

	if descriptor.IsProxy {
		return true
	}

	_, hasHTTPTrigger := descriptor.HTTPTriggerBinding()
	return hasHTTPTrigger
}

// ProxyingMiddleware serves proxied functions over the HTTP context published for the invocation.
// The function's response is written to the HTTP context and the invocation returns no value. Once
// the ingress released the request, nothing is written to it
func (b *Bridge) ProxyingMiddleware(responseMarshaller *marshaller.Marshaller) dispatcher.Middleware {
	return func(next dispatcher.Handler) dispatcher.Handler {
		return func(ctx context.Context, invocationContext *invocation.Context) (interface{}, error) {
			if !IsProxied(invocationContext.Descriptor) {
				return next(ctx, invocationContext)
			}

			// the request waiting on the ingress is released however the invocation ends
			defer b.CompleteInvocation(invocationContext.InvocationID)

			correlationEntry, err := b.await(ctx, invocationContext.InvocationID)
			if err != nil {
				return nil, errors.Wrap(err, "Failed to get HTTP context")
			}

			invocationContext.Features.Set(invocation.FeatureHTTPContext, correlationEntry.httpContext)

			defer func() {
				if recoveredErr := recover(); recoveredErr != nil {
					correlationEntry.use(func(httpContext *fasthttp.RequestCtx) {
						httpContext.Error("Function panicked", net_http.StatusInternalServerError)
					})

					panic(recoveredErr)
				}
			}()

			response, err := next(ctx, invocationContext)

			written := correlationEntry.use(func(httpContext *fasthttp.RequestCtx) {
				if err != nil {
					writeError(httpContext, err)
					return
				}

				if writeErr := writeResponse(ctx, responseMarshaller, httpContext, response); writeErr != nil {
					b.logger.WarnWith("Failed to write response",
						"invocationID", invocationContext.InvocationID,
						"err", writeErr.Error())

					httpContext.Error(writeErr.Error(), net_http.StatusInternalServerError)
				}
			})

			if !written {
				b.logger.WarnWith("HTTP request was released before the invocation finished",
					"invocationID", invocationContext.InvocationID)
			}

			return nil, err
		}
	}
}

func writeError(httpContext *fasthttp.RequestCtx, err error) {
	statusCode := net_http.StatusInternalServerError

	// check if the user returned an error with a status code
	if errorWithStatusCode, errorHasStatusCode := err.(nuclio.ErrorWithStatusCode); errorHasStatusCode {
		statusCode = errorWithStatusCode.StatusCode()
	} else if errorWithStatusCode, errorHasStatusCode := errors.RootCause(err).(nuclio.ErrorWithStatusCode); errorHasStatusCode {
		statusCode = errorWithStatusCode.StatusCode()
	}

	httpContext.Error(err.Error(), statusCode)
}

func writeResponse(ctx context.Context,
	responseMarshaller *marshaller.Marshaller,
	httpContext *fasthttp.RequestCtx,
	response interface{}) error {

	// format the response into the context, based on its type
	switch typedResponse := response.(type) {
	case nil:
		return nil

	case []byte:
		httpContext.Write(typedResponse) // nolint: errcheck
		return nil

	case string:
		httpContext.WriteString(typedResponse) // nolint: errcheck
		return nil
	}

	data := responseMarshaller.ToWire(ctx, response)
	if data.GetKind() != wire.DataKindHTTP {
		body, err := responseMarshaller.BodyBytes(data)
		if err != nil {
			return errors.Wrap(err, "Failed to encode response body")
		}

		if data.GetKind() == wire.DataKindJSON {
			httpContext.SetContentType("application/json")
		}

		httpContext.Write(body) // nolint: errcheck
		return nil
	}

	return writeHTTP(responseMarshaller, httpContext, data.HTTP)
}

func writeHTTP(responseMarshaller *marshaller.Marshaller,
	httpContext *fasthttp.RequestCtx,
	rpcHTTP *wire.RpcHTTP) error {
	body, err := responseMarshaller.BodyBytes(rpcHTTP.Body)
	if err != nil {
		return errors.Wrap(err, "Failed to encode response body")
	}

	// set body
	httpContext.Response.SetBody(body)

	contentTypeSet := false
	for headerKey, headerValue := range rpcHTTP.Headers {
		if headerKey == marshaller.FoldHeaderKey(headers.ContentType) {
			httpContext.SetContentType(headerValue)
			contentTypeSet = true
			continue
		}

		httpContext.Response.Header.Set(headerKey, headerValue)
	}

	if !contentTypeSet && rpcHTTP.Body.GetKind() == wire.DataKindJSON {
		httpContext.SetContentType("application/json")
	}

	for _, rpcCookie := range rpcHTTP.Cookies {
		setCookie(httpContext, rpcCookie)
	}

	// set status code if set
	if rpcHTTP.StatusCode != "" {
		statusCode, err := strconv.Atoi(rpcHTTP.StatusCode)
		if err != nil {
			return errors.Wrapf(err, "Invalid status code %s", rpcHTTP.StatusCode)
		}

		httpContext.Response.SetStatusCode(statusCode)
	}

	return nil
}

func setCookie(httpContext *fasthttp.RequestCtx, rpcCookie *wire.RpcHTTPCookie) {
	if rpcCookie == nil {
		return
	}

	cookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(cookie)

	cookie.SetKey(rpcCookie.Name)
	cookie.SetValue(rpcCookie.Value)
	cookie.SetDomain(rpcCookie.Domain)
	cookie.SetPath(rpcCookie.Path)
	cookie.SetSecure(rpcCookie.Secure)
	cookie.SetHTTPOnly(rpcCookie.HTTPOnly)
	cookie.SetMaxAge(int(rpcCookie.MaxAge))

	if rpcCookie.Expires != 0 {
		cookie.SetExpire(time.Unix(rpcCookie.Expires, 0))
	}

	httpContext.Response.Header.SetCookie(cookie)
}
