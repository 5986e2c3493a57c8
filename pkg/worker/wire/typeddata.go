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

package wire

// DataKind is the discriminator of a TypedData envelope
type DataKind string

const (
	DataKindNone             DataKind = ""
	DataKindString           DataKind = "string"
	DataKindJSON             DataKind = "json"
	DataKindBytes            DataKind = "bytes"
	DataKindStream           DataKind = "stream"
	DataKindHTTP             DataKind = "http"
	DataKindInt              DataKind = "int"
	DataKindDouble           DataKind = "double"
	DataKindCollectionBytes  DataKind = "collectionBytes"
	DataKindCollectionString DataKind = "collectionString"
	DataKindCollectionDouble DataKind = "collectionDouble"
	DataKindCollectionSint64 DataKind = "collectionSint64"
)

// TypedData carries a single value of the kind named by Kind. Only the field matching Kind is meaningful
type TypedData struct {
	Kind             DataKind  `msgpack:"kind,omitempty"`
	String           string    `msgpack:"string,omitempty"`
	JSON             string    `msgpack:"json,omitempty"`
	Bytes            []byte    `msgpack:"bytes,omitempty"`
	Stream           []byte    `msgpack:"stream,omitempty"`
	HTTP             *RpcHTTP  `msgpack:"http,omitempty"`
	Int              int64     `msgpack:"int,omitempty"`
	Double           float64   `msgpack:"double,omitempty"`
	CollectionBytes  [][]byte  `msgpack:"collectionBytes,omitempty"`
	CollectionString []string  `msgpack:"collectionString,omitempty"`
	CollectionDouble []float64 `msgpack:"collectionDouble,omitempty"`
	CollectionSint64 []int64   `msgpack:"collectionSint64,omitempty"`
}

// IsEmpty returns true if the envelope carries no value
func (td *TypedData) IsEmpty() bool {
	return td == nil || td.Kind == DataKindNone
}

// GetKind returns the kind of the envelope, treating nil as an empty envelope
func (td *TypedData) GetKind() DataKind {
	if td == nil {
		return DataKindNone
	}

	return td.Kind
}

// RpcHTTP is the structured representation of an HTTP request or response
type RpcHTTP struct {
	Method     string            `msgpack:"method,omitempty"`
	URL        string            `msgpack:"url,omitempty"`
	Headers    map[string]string `msgpack:"headers,omitempty"`
	Body       *TypedData        `msgpack:"body,omitempty"`
	Params     map[string]string `msgpack:"params,omitempty"`
	StatusCode string            `msgpack:"statusCode,omitempty"`
	Query      map[string]string `msgpack:"query,omitempty"`
	Cookies    []*RpcHTTPCookie  `msgpack:"cookies,omitempty"`
}

// RpcHTTPCookie is a cookie attached to an HTTP response
type RpcHTTPCookie struct {
	Name     string `msgpack:"name"`
	Value    string `msgpack:"value"`
	Domain   string `msgpack:"domain,omitempty"`
	Path     string `msgpack:"path,omitempty"`
	Expires  int64  `msgpack:"expires,omitempty"`
	Secure   bool   `msgpack:"secure,omitempty"`
	HTTPOnly bool   `msgpack:"httpOnly,omitempty"`
	MaxAge   int64  `msgpack:"maxAge,omitempty"`
}

// ParameterBinding is a named value, used for both invocation inputs and outputs
type ParameterBinding struct {
	Name string     `msgpack:"name"`
	Data *TypedData `msgpack:"data,omitempty"`
}
