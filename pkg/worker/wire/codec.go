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

import (
	"bytes"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// CodecName is the name the codec registers under with grpc
const CodecName = "msgpack"

// Codec encodes streaming messages as MsgPack. It satisfies grpc's encoding.Codec
type Codec struct{}

// Marshal encodes a message
func (c Codec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	if err := msgpack.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "Failed to encode message")
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a message into v, which must be a pointer
func (c Codec) Unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "Failed to decode message")
	}

	return nil
}

// Name returns the codec name
func (c Codec) Name() string {
	return CodecName
}
