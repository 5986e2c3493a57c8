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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// Parameter is a single declared parameter of a function, in call order
type Parameter struct {
	Name      string
	Type      string
	Direction wire.BindingDirection
}

// Definition is an immutable, loaded function
type Definition struct {
	invocation.Descriptor
	Directory  string
	ScriptFile string
	Parameters []Parameter
	Properties map[string]string
	Function   invocation.Function
}

// rawBinding is the decoded form of a binding the host sent as JSON
type rawBinding struct {
	Name      string                 `mapstructure:"name"`
	Type      string                 `mapstructure:"type"`
	Direction string                 `mapstructure:"direction"`
	DataType  string                 `mapstructure:"dataType"`
	Remain    map[string]interface{} `mapstructure:",remain"`
}

// NewDefinitionFromLoadRequest creates a definition from a load request, resolving its entry point
// through the catalog
func NewDefinitionFromLoadRequest(request *wire.FunctionLoadRequest, catalog *Catalog) (*Definition, error) {
	if request == nil || request.Metadata == nil {
		return nil, errors.New("Load request carries no function metadata")
	}

	if request.FunctionID == "" {
		return nil, errors.New("Load request carries no function id")
	}

	metadata := request.Metadata

	bindings, err := collectBindings(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to parse bindings")
	}

	function, err := catalog.Get(metadata.EntryPoint)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to resolve entry point of function %s", metadata.Name)
	}

	inputBindings := map[string]*wire.BindingInfo{}
	outputBindings := map[string]*wire.BindingInfo{}

	for name, binding := range bindings {
		switch binding.Direction {
		case wire.BindingDirectionIn:
			inputBindings[name] = binding
		case wire.BindingDirectionOut:
			outputBindings[name] = binding
		case wire.BindingDirectionInOut:
			inputBindings[name] = binding
			outputBindings[name] = binding
		default:
			return nil, errors.Errorf("Binding %s has an invalid direction: %q", name, binding.Direction)
		}
	}

	name := metadata.Name
	if name == "" {
		name = request.FunctionID
	}

	return &Definition{
		Descriptor: invocation.Descriptor{
			FunctionID:     request.FunctionID,
			Name:           name,
			EntryPoint:     metadata.EntryPoint,
			IsProxy:        metadata.IsProxy,
			InputBindings:  inputBindings,
			OutputBindings: outputBindings,
		},
		Directory:  metadata.Directory,
		ScriptFile: metadata.ScriptFile,
		Parameters: orderParameters(bindings),
		Properties: metadata.Properties,
		Function:   function,
	}, nil
}

func collectBindings(metadata *wire.RpcFunctionMetadata) (map[string]*wire.BindingInfo, error) {
	bindings := map[string]*wire.BindingInfo{}

	for name, binding := range metadata.Bindings {
		if binding == nil {
			return nil, errors.Errorf("Binding %s is empty", name)
		}

		bindingCopy := *binding
		bindingCopy.Direction = normalizeDirection(string(binding.Direction))
		bindings[name] = &bindingCopy
	}

	// structured bindings take precedence over raw ones
	for _, encodedBinding := range metadata.RawBindings {
		name, binding, err := decodeRawBinding(encodedBinding)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to decode raw binding")
		}

		if _, exists := bindings[name]; !exists {
			bindings[name] = binding
		}
	}

	return bindings, nil
}

func decodeRawBinding(encodedBinding string) (string, *wire.BindingInfo, error) {
	bindingMap := map[string]interface{}{}
	if err := json.Unmarshal([]byte(encodedBinding), &bindingMap); err != nil {
		return "", nil, errors.Wrap(err, "Failed to unmarshal binding JSON")
	}

	decoded := rawBinding{}
	if err := mapstructure.Decode(bindingMap, &decoded); err != nil {
		return "", nil, errors.Wrap(err, "Failed to decode binding")
	}

	if decoded.Name == "" {
		return "", nil, errors.Errorf("Binding has no name: %s", encodedBinding)
	}

	binding := &wire.BindingInfo{
		Type:      decoded.Type,
		Direction: normalizeDirection(decoded.Direction),
		DataType:  decoded.DataType,
	}

	if len(decoded.Remain) > 0 {
		binding.Properties = map[string]string{}
		for key, value := range decoded.Remain {
			binding.Properties[key] = propertyString(value)
		}
	}

	return decoded.Name, binding, nil
}

func normalizeDirection(direction string) wire.BindingDirection {
	return wire.BindingDirection(strings.ToLower(direction))
}

func propertyString(value interface{}) string {
	switch typedValue := value.(type) {
	case string:
		return typedValue
	case []interface{}, map[string]interface{}:
		encoded, err := json.Marshal(typedValue)
		if err == nil {
			return string(encoded)
		}
	}

	return fmt.Sprint(value)
}

// orderParameters puts the trigger binding first, then the other bindings by name
func orderParameters(bindings map[string]*wire.BindingInfo) []Parameter {
	names := lo.Keys(bindings)

	sort.Slice(names, func(i, j int) bool {
		iIsTrigger := isTrigger(bindings[names[i]])
		jIsTrigger := isTrigger(bindings[names[j]])

		if iIsTrigger != jIsTrigger {
			return iIsTrigger
		}

		return names[i] < names[j]
	})

	return lo.Map(names, func(name string, _ int) Parameter {
		return Parameter{
			Name:      name,
			Type:      bindings[name].Type,
			Direction: bindings[name].Direction,
		}
	})
}

func isTrigger(binding *wire.BindingInfo) bool {
	return strings.HasSuffix(binding.Type, "Trigger")
}
