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

package functionregistry

import (
	"context"
	"net/http"
	"sort"

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// EchoEntryPoint is the entry point of the built in echo function
const EchoEntryPoint = "nuclio:echo"

// this is used for smoke testing a worker against a host without loading user code
func echo(ctx context.Context, invocationContext *invocation.Context) (interface{}, error) {
	inputNames := lo.Keys(invocationContext.Inputs())
	sort.Strings(inputNames)

	invocationContext.Logger.InfoWith("Got invocation",
		"invocationID", invocationContext.InvocationID,
		"function", invocationContext.Descriptor.Name,
		"inputs", inputNames)

	var result interface{}

	if _, isHTTP := invocationContext.Descriptor.HTTPTriggerBinding(); isHTTP {
		request, err := invocationContext.HTTPRequest()
		if err != nil {
			return nil, errors.Wrap(err, "Failed to read HTTP request")
		}

		response := marshaller.NewHTTPResponse(http.StatusOK, request.Body)
		if contentType := request.Header("Content-Type"); contentType != "" {
			response.Headers["Content-Type"] = contentType
		}

		result = response
	} else {
		values := map[string]interface{}{}

		for _, name := range inputNames {
			var value interface{}
			if err := invocationContext.BindInput(name, &value); err != nil {
				return nil, errors.Wrapf(err, "Failed to read input %s", name)
			}

			values[name] = value
		}

		result = values
	}

	// mirror the result to every declared output
	for name := range invocationContext.Descriptor.OutputBindings {
		if err := invocationContext.SetOutput(name, result); err != nil {
			return nil, errors.Wrapf(err, "Failed to set output %s", name)
		}
	}

	return result, nil
}
