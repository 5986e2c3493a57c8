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

package marshaller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/nuclio-sdk-go"
	"github.com/samber/lo"
)

// Marshaller converts native values to and from the wire representation
type Marshaller struct {
	logger logger.Logger
}

func NewMarshaller(parentLogger logger.Logger) *Marshaller {
	return &Marshaller{
		logger: parentLogger.GetChild("marshaller"),
	}
}

// ToWire converts a value to its wire representation. It never fails: values that cannot be
// serialized are sent as their string representation
func (m *Marshaller) ToWire(ctx context.Context, value interface{}) *wire.TypedData {
	if isNil(value) {
		return &wire.TypedData{}
	}

	switch typedValue := value.(type) {
	case *wire.TypedData:
		return typedValue
	case []byte:
		return &wire.TypedData{Kind: wire.DataKindBytes, Bytes: typedValue}
	case string:
		return &wire.TypedData{Kind: wire.DataKindString, String: typedValue}
	case *HTTPResponse:
		return m.httpResponseToWire(ctx, typedValue)
	case HTTPResponse:
		return m.httpResponseToWire(ctx, &typedValue)
	case *nuclio.Response:
		return m.nuclioResponseToWire(typedValue)
	case nuclio.Response:
		return m.nuclioResponseToWire(&typedValue)
	case *HTTPRequest:
		return m.httpRequestToWire(typedValue)

	// must precede any generic slice handling
	case [][]byte:
		return &wire.TypedData{Kind: wire.DataKindCollectionBytes, CollectionBytes: typedValue}
	case []string:
		return &wire.TypedData{Kind: wire.DataKindCollectionString, CollectionString: typedValue}
	case []float64:
		return &wire.TypedData{Kind: wire.DataKindCollectionDouble, CollectionDouble: typedValue}
	case []float32:
		return &wire.TypedData{
			Kind:             wire.DataKindCollectionDouble,
			CollectionDouble: lo.Map(typedValue, func(item float32, _ int) float64 { return float64(item) }),
		}
	case []int64:
		return &wire.TypedData{Kind: wire.DataKindCollectionSint64, CollectionSint64: typedValue}
	case []int:
		return &wire.TypedData{
			Kind:             wire.DataKindCollectionSint64,
			CollectionSint64: lo.Map(typedValue, func(item int, _ int) int64 { return int64(item) }),
		}
	case []int32:
		return &wire.TypedData{
			Kind:             wire.DataKindCollectionSint64,
			CollectionSint64: lo.Map(typedValue, func(item int32, _ int) int64 { return int64(item) }),
		}
	case []interface{}:
		if collection := homogeneousCollectionToWire(typedValue); collection != nil {
			return collection
		}
	case int:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case int8:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case int16:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case int32:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case int64:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: typedValue}
	case uint:
		if uint64(typedValue) <= math.MaxInt64 {
			return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
		}
	case uint8:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case uint16:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case uint32:
		return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
	case uint64:
		if typedValue <= math.MaxInt64 {
			return &wire.TypedData{Kind: wire.DataKindInt, Int: int64(typedValue)}
		}
	case float32:
		return &wire.TypedData{Kind: wire.DataKindDouble, Double: float64(typedValue)}
	case float64:
		return &wire.TypedData{Kind: wire.DataKindDouble, Double: typedValue}
	}

	return m.structuredToWire(value)
}

// structuredToWire tries the generic JSON path and falls back to the plain string representation
func (m *Marshaller) structuredToWire(value interface{}) (typedData *wire.TypedData) {
	defer func() {
		if recoveredErr := recover(); recoveredErr != nil {
			m.logger.DebugWith("Structured serialization panicked, falling back to string",
				"type", fmt.Sprintf("%T", value),
				"err", recoveredErr)

			typedData = stringFallback(value)
		}
	}()

	encoded, err := json.Marshal(value)
	if err != nil {
		m.logger.DebugWith("Structured serialization failed, falling back to string",
			"type", fmt.Sprintf("%T", value),
			"err", err.Error())

		return stringFallback(value)
	}

	return &wire.TypedData{Kind: wire.DataKindJSON, JSON: string(encoded)}
}

func (m *Marshaller) httpResponseToWire(ctx context.Context, response *HTTPResponse) *wire.TypedData {
	rpcHTTP := &wire.RpcHTTP{
		StatusCode: strconv.Itoa(response.GetStatusCode()),
		Headers:    NormalizeHeaders(response.Headers),
		Cookies:    response.Cookies,
	}

	switch body := response.Body.(type) {
	case nil:
	case io.Reader:
		contents, err := io.ReadAll(&contextReader{ctx: ctx, reader: body})
		if err != nil {
			m.logger.WarnWith("Failed to read response body", "err", err.Error())
			contents = []byte(err.Error())
			rpcHTTP.StatusCode = strconv.Itoa(500)
		}

		rpcHTTP.Body = &wire.TypedData{Kind: wire.DataKindBytes, Bytes: contents}
	default:
		rpcHTTP.Body = m.ToWire(ctx, body)
	}

	return &wire.TypedData{Kind: wire.DataKindHTTP, HTTP: rpcHTTP}
}

func (m *Marshaller) nuclioResponseToWire(response *nuclio.Response) *wire.TypedData {
	headers := map[string]string{}
	for key, value := range response.Headers {
		headers[key] = fmt.Sprint(value)
	}

	if response.ContentType != "" {
		headers["Content-Type"] = response.ContentType
	}

	statusCode := response.StatusCode
	if statusCode == 0 {
		statusCode = 200
	}

	rpcHTTP := &wire.RpcHTTP{
		StatusCode: strconv.Itoa(statusCode),
		Headers:    NormalizeHeaders(headers),
	}

	if response.Body != nil {
		rpcHTTP.Body = &wire.TypedData{Kind: wire.DataKindBytes, Bytes: response.Body}
	}

	return &wire.TypedData{Kind: wire.DataKindHTTP, HTTP: rpcHTTP}
}

func (m *Marshaller) httpRequestToWire(request *HTTPRequest) *wire.TypedData {
	rpcHTTP := &wire.RpcHTTP{
		Method:  request.Method,
		URL:     request.URL,
		Headers: NormalizeHeaders(request.Headers),
		Query:   request.Query,
		Params:  request.Params,
	}

	if request.Body != nil {
		rpcHTTP.Body = &wire.TypedData{Kind: wire.DataKindBytes, Bytes: request.Body}
	}

	return &wire.TypedData{Kind: wire.DataKindHTTP, HTTP: rpcHTTP}
}

// homogeneousCollectionToWire returns a collection envelope if every item shares one primitive
// element type, or nil
func homogeneousCollectionToWire(items []interface{}) *wire.TypedData {
	if len(items) == 0 {
		return nil
	}

	switch items[0].(type) {
	case []byte:
		if lo.EveryBy(items, func(item interface{}) bool { _, ok := item.([]byte); return ok }) {
			return &wire.TypedData{
				Kind:            wire.DataKindCollectionBytes,
				CollectionBytes: lo.Map(items, func(item interface{}, _ int) []byte { return item.([]byte) }),
			}
		}
	case string:
		if lo.EveryBy(items, func(item interface{}) bool { _, ok := item.(string); return ok }) {
			return &wire.TypedData{
				Kind:             wire.DataKindCollectionString,
				CollectionString: lo.Map(items, func(item interface{}, _ int) string { return item.(string) }),
			}
		}
	case float64, float32:
		if lo.EveryBy(items, isFloat) {
			return &wire.TypedData{
				Kind:             wire.DataKindCollectionDouble,
				CollectionDouble: lo.Map(items, func(item interface{}, _ int) float64 { return toFloat64(item) }),
			}
		}
	case int64, int, int32:
		if lo.EveryBy(items, isSignedInteger) {
			return &wire.TypedData{
				Kind:             wire.DataKindCollectionSint64,
				CollectionSint64: lo.Map(items, func(item interface{}, _ int) int64 { return toInt64(item) }),
			}
		}
	}

	return nil
}

func isFloat(item interface{}) bool {
	switch item.(type) {
	case float64, float32:
		return true
	}

	return false
}

func isSignedInteger(item interface{}) bool {
	switch item.(type) {
	case int64, int, int32:
		return true
	}

	return false
}

func toFloat64(item interface{}) float64 {
	switch typedItem := item.(type) {
	case float32:
		return float64(typedItem)
	case float64:
		return typedItem
	}

	return 0
}

func toInt64(item interface{}) int64 {
	switch typedItem := item.(type) {
	case int:
		return int64(typedItem)
	case int32:
		return int64(typedItem)
	case int64:
		return typedItem
	}

	return 0
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}

	reflectValue := reflect.ValueOf(value)
	switch reflectValue.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return reflectValue.IsNil()
	}

	return false
}

func stringFallback(value interface{}) (typedData *wire.TypedData) {
	defer func() {
		if recover() != nil {
			typedData = &wire.TypedData{Kind: wire.DataKindString, String: fmt.Sprintf("%T", value)}
		}
	}()

	return &wire.TypedData{Kind: wire.DataKindString, String: fmt.Sprintf("%v", value)}
}

// contextReader stops reading once the context is done
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, errors.Wrap(err, "Context done while reading body")
	}

	return cr.reader.Read(p)
}
