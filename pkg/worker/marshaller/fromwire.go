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
	"reflect"
	"strconv"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

var (
	bytesType       = reflect.TypeOf([]byte(nil))
	httpRequestType = reflect.TypeOf(HTTPRequest{})
)

// Value returns the natural Go value of a wire envelope: nil, string, []byte, int64, float64, a JSON
// decoded value, a typed slice or *HTTPRequest
func (m *Marshaller) Value(data *wire.TypedData) (interface{}, error) {
	switch data.GetKind() {
	case wire.DataKindNone:
		return nil, nil
	case wire.DataKindString:
		return data.String, nil
	case wire.DataKindJSON:
		var decoded interface{}
		if err := json.Unmarshal([]byte(data.JSON), &decoded); err != nil {
			return nil, errors.Wrap(err, "Failed to decode JSON payload")
		}

		return decoded, nil
	case wire.DataKindBytes:
		return data.Bytes, nil
	case wire.DataKindStream:
		return data.Stream, nil
	case wire.DataKindHTTP:
		return m.HTTPRequestFromWire(data.HTTP)
	case wire.DataKindInt:
		return data.Int, nil
	case wire.DataKindDouble:
		return data.Double, nil
	case wire.DataKindCollectionBytes:
		return data.CollectionBytes, nil
	case wire.DataKindCollectionString:
		return data.CollectionString, nil
	case wire.DataKindCollectionDouble:
		return data.CollectionDouble, nil
	case wire.DataKindCollectionSint64:
		return data.CollectionSint64, nil
	}

	return nil, errors.Errorf("Unknown data kind: %s", data.Kind)
}

// FromWire decodes a wire envelope into target, which must be a non-nil pointer. Binding specific
// converters build on this primitive
func (m *Marshaller) FromWire(data *wire.TypedData, target interface{}) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return errors.Errorf("Target must be a non-nil pointer, got %T", target)
	}

	element := targetValue.Elem()

	// interface targets take the natural value
	if element.Kind() == reflect.Interface {
		value, err := m.Value(data)
		if err != nil {
			return errors.Wrap(err, "Failed to get value")
		}

		if value == nil {
			element.Set(reflect.Zero(element.Type()))
			return nil
		}

		valueOf := reflect.ValueOf(value)
		if !valueOf.Type().AssignableTo(element.Type()) {
			return errors.Errorf("Cannot assign %T to %s", value, element.Type())
		}

		element.Set(valueOf)
		return nil
	}

	switch data.GetKind() {
	case wire.DataKindNone:
		element.Set(reflect.Zero(element.Type()))
		return nil
	case wire.DataKindBytes:
		return decodeBytes(data.Bytes, element, target)
	case wire.DataKindStream:
		return decodeBytes(data.Stream, element, target)
	case wire.DataKindString:
		return decodeString(data.String, element, target)
	case wire.DataKindJSON:
		return decodeJSON(data.JSON, element, target)
	case wire.DataKindInt:
		return decodeInt(data.Int, element)
	case wire.DataKindDouble:
		return decodeDouble(data.Double, element)
	case wire.DataKindHTTP:
		return m.decodeHTTP(data.HTTP, element)
	case wire.DataKindCollectionBytes:
		return decodeCollection(element, data.CollectionBytes, map[reflect.Type]func() interface{}{
			reflect.TypeOf([]string(nil)): func() interface{} {
				return lo.Map(data.CollectionBytes, func(item []byte, _ int) string { return string(item) })
			},
		})
	case wire.DataKindCollectionString:
		return decodeCollection(element, data.CollectionString, map[reflect.Type]func() interface{}{
			reflect.TypeOf([][]byte(nil)): func() interface{} {
				return lo.Map(data.CollectionString, func(item string, _ int) []byte { return []byte(item) })
			},
		})
	case wire.DataKindCollectionDouble:
		return decodeCollection(element, data.CollectionDouble, map[reflect.Type]func() interface{}{
			reflect.TypeOf([]float32(nil)): func() interface{} {
				return lo.Map(data.CollectionDouble, func(item float64, _ int) float32 { return float32(item) })
			},
		})
	case wire.DataKindCollectionSint64:
		return decodeCollection(element, data.CollectionSint64, map[reflect.Type]func() interface{}{
			reflect.TypeOf([]int(nil)): func() interface{} {
				return lo.Map(data.CollectionSint64, func(item int64, _ int) int { return int(item) })
			},
			reflect.TypeOf([]int32(nil)): func() interface{} {
				return lo.Map(data.CollectionSint64, func(item int64, _ int) int32 { return int32(item) })
			},
			reflect.TypeOf([]float64(nil)): func() interface{} {
				return lo.Map(data.CollectionSint64, func(item int64, _ int) float64 { return float64(item) })
			},
		})
	}

	return errors.Errorf("Unknown data kind: %s", data.Kind)
}

func (m *Marshaller) decodeHTTP(rpcHTTP *wire.RpcHTTP, element reflect.Value) error {
	request, err := m.HTTPRequestFromWire(rpcHTTP)
	if err != nil {
		return errors.Wrap(err, "Failed to decode HTTP payload")
	}

	switch {
	case element.Type() == httpRequestType:
		element.Set(reflect.ValueOf(*request))
	case element.Type() == reflect.PtrTo(httpRequestType):
		element.Set(reflect.ValueOf(request))
	case element.Type() == bytesType:
		element.SetBytes(request.Body)
	case element.Kind() == reflect.String:
		element.SetString(string(request.Body))
	default:
		return errors.Errorf("Cannot decode HTTP payload into %s", element.Type())
	}

	return nil
}

func decodeBytes(contents []byte, element reflect.Value, target interface{}) error {
	switch {
	case element.Type() == bytesType:
		element.SetBytes(contents)
	case element.Kind() == reflect.String:
		element.SetString(string(contents))
	default:
		if err := json.Unmarshal(contents, target); err != nil {
			return errors.Wrapf(err, "Failed to decode bytes into %s", element.Type())
		}
	}

	return nil
}

func decodeString(contents string, element reflect.Value, target interface{}) error {
	switch element.Kind() {
	case reflect.String:
		element.SetString(contents)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(contents, 10, element.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "Failed to parse %q as %s", contents, element.Type())
		}

		element.SetInt(parsed)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(contents, 10, element.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "Failed to parse %q as %s", contents, element.Type())
		}

		element.SetUint(parsed)
		return nil
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(contents, element.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "Failed to parse %q as %s", contents, element.Type())
		}

		element.SetFloat(parsed)
		return nil
	case reflect.Bool:
		parsed, err := strconv.ParseBool(contents)
		if err != nil {
			return errors.Wrapf(err, "Failed to parse %q as bool", contents)
		}

		element.SetBool(parsed)
		return nil
	}

	if element.Type() == bytesType {
		element.SetBytes([]byte(contents))
		return nil
	}

	if err := json.Unmarshal([]byte(contents), target); err != nil {
		return errors.Wrapf(err, "Failed to decode string into %s", element.Type())
	}

	return nil
}

func decodeJSON(contents string, element reflect.Value, target interface{}) error {
	switch {
	case element.Kind() == reflect.String:
		element.SetString(contents)
		return nil
	case element.Type() == bytesType:
		element.SetBytes([]byte(contents))
		return nil
	}

	if err := json.Unmarshal([]byte(contents), target); err != nil {
		return errors.Wrapf(err, "Failed to decode JSON into %s", element.Type())
	}

	return nil
}

func decodeInt(value int64, element reflect.Value) error {
	switch element.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if element.OverflowInt(value) {
			return errors.Errorf("Value %d overflows %s", value, element.Type())
		}

		element.SetInt(value)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if value < 0 || element.OverflowUint(uint64(value)) {
			return errors.Errorf("Value %d overflows %s", value, element.Type())
		}

		element.SetUint(uint64(value))
	case reflect.Float32, reflect.Float64:
		element.SetFloat(float64(value))
	case reflect.String:
		element.SetString(strconv.FormatInt(value, 10))
	default:
		return errors.Errorf("Cannot decode int into %s", element.Type())
	}

	return nil
}

func decodeDouble(value float64, element reflect.Value) error {
	switch element.Kind() {
	case reflect.Float32, reflect.Float64:
		element.SetFloat(value)
	case reflect.String:
		element.SetString(strconv.FormatFloat(value, 'g', -1, 64))
	default:
		return errors.Errorf("Cannot decode double into %s", element.Type())
	}

	return nil
}

// decodeCollection sets element to collection when the types match, or to one of the given conversions
func decodeCollection(element reflect.Value,
	collection interface{},
	conversions map[reflect.Type]func() interface{}) error {
	collectionValue := reflect.ValueOf(collection)

	if collectionValue.Type().AssignableTo(element.Type()) {
		element.Set(collectionValue)
		return nil
	}

	if conversion, found := conversions[element.Type()]; found {
		element.Set(reflect.ValueOf(conversion()))
		return nil
	}

	return errors.Errorf("Cannot decode %s into %s", collectionValue.Type(), element.Type())
}
