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

package invocation

import (
	"context"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
)

// HTTPTriggerBindingType is the binding type of an HTTP trigger
const HTTPTriggerBindingType = "httpTrigger"

// well known features
const (
	FeatureDescriptor     = "descriptor"
	FeatureInputBindings  = "inputBindings"
	FeatureFunctionLogger = "functionLogger"
	FeatureHTTPContext    = "httpContext"
)

var (
	ErrMissingFeature   = errors.New("Feature not found in invocation context")
	ErrUndeclaredOutput = errors.New("Output is not declared as an output binding")
	ErrMissingInput     = errors.New("Input not found in invocation")
)

// Function is the capability a loaded function exposes. The returned value is marshalled as the
// invocation's return value
type Function interface {
	Invoke(ctx context.Context, invocationContext *Context) (interface{}, error)
}

// FunctionFunc adapts a plain function to the Function interface
type FunctionFunc func(ctx context.Context, invocationContext *Context) (interface{}, error)

// Invoke calls ff
func (ff FunctionFunc) Invoke(ctx context.Context, invocationContext *Context) (interface{}, error) {
	return ff(ctx, invocationContext)
}

// Descriptor is what an invocation knows about the function it executes
type Descriptor struct {
	FunctionID     string
	Name           string
	EntryPoint     string
	IsProxy        bool
	InputBindings  map[string]*wire.BindingInfo
	OutputBindings map[string]*wire.BindingInfo
}

// HasOutput returns true if name is declared as an output binding
func (d *Descriptor) HasOutput(name string) bool {
	_, found := d.OutputBindings[name]
	return found
}

// HTTPTriggerBinding returns the name of the HTTP trigger input binding, if the function has one
func (d *Descriptor) HTTPTriggerBinding() (string, bool) {
	for name, binding := range d.InputBindings {
		if binding.Type == HTTPTriggerBindingType {
			return name, true
		}
	}

	return "", false
}

// Resolver resolves a function id to its descriptor and capability
type Resolver interface {
	ResolveFunction(functionID string) (*Descriptor, Function, error)
}
