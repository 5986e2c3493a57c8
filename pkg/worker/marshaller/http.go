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
	"encoding/json"
	"net/http"
	"sort"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

// HTTPRequest is the decoded form of an HTTP-shaped binding value
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Params  map[string]string
	Body    []byte
}

// Header returns the value of a header, matched case-insensitively
func (r *HTTPRequest) Header(name string) string {
	return r.Headers[FoldHeaderKey(name)]
}

// DecodeBody decodes a JSON body into target
func (r *HTTPRequest) DecodeBody(target interface{}) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return errors.Wrap(err, "Failed to decode request body")
	}

	return nil
}

// HTTPResponse is a structured HTTP response a function may return or set as an output.
// Body may be nil, []byte, string, an io.Reader (read fully when marshalled) or any other value
// (marshalled through the generic path)
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Cookies    []*wire.RpcHTTPCookie
	Body       interface{}
}

// NewHTTPResponse creates a response with the given status and body
func NewHTTPResponse(statusCode int, body interface{}) *HTTPResponse {
	return &HTTPResponse{
		StatusCode: statusCode,
		Headers:    map[string]string{},
		Body:       body,
	}
}

// GetStatusCode returns the status code, defaulting to 200
func (r *HTTPResponse) GetStatusCode() int {
	if r.StatusCode == 0 {
		return http.StatusOK
	}

	return r.StatusCode
}

// FoldHeaderKey case-folds a single header key
func FoldHeaderKey(key string) string {

	// casers hold state and must not be shared between goroutines
	return cases.Fold().String(key)
}

// NormalizeHeaders returns a copy of headers with case-folded keys. When two keys fold to the same
// value, the one sorting last wins
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}

	keys := lo.Keys(headers)
	sort.Strings(keys)

	caser := cases.Fold()
	normalized := make(map[string]string, len(headers))

	for _, key := range keys {
		normalized[caser.String(key)] = headers[key]
	}

	return normalized
}

// HTTPRequestFromWire converts the wire representation of an HTTP request
func (m *Marshaller) HTTPRequestFromWire(rpcHTTP *wire.RpcHTTP) (*HTTPRequest, error) {
	if rpcHTTP == nil {
		return nil, errors.New("HTTP payload is empty")
	}

	body, err := m.BodyBytes(rpcHTTP.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read request body")
	}

	return &HTTPRequest{
		Method:  rpcHTTP.Method,
		URL:     rpcHTTP.URL,
		Headers: NormalizeHeaders(rpcHTTP.Headers),
		Query:   rpcHTTP.Query,
		Params:  rpcHTTP.Params,
		Body:    body,
	}, nil
}

// BodyBytes returns the raw contents of a body envelope. Non-textual kinds are encoded as JSON
func (m *Marshaller) BodyBytes(data *wire.TypedData) ([]byte, error) {
	switch data.GetKind() {
	case wire.DataKindNone:
		return nil, nil
	case wire.DataKindBytes:
		return data.Bytes, nil
	case wire.DataKindStream:
		return data.Stream, nil
	case wire.DataKindString:
		return []byte(data.String), nil
	case wire.DataKindJSON:
		return []byte(data.JSON), nil
	}

	value, err := m.Value(data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(value)
}
