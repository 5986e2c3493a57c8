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
	"sync"

	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Context is the execution context of a single invocation
type Context struct {
	InvocationID string
	RequestID    string
	Descriptor   *Descriptor
	Function     Function
	TraceContext *wire.RpcTraceContext
	RetryContext *wire.RetryContext

	// function logs go both to the worker log and to the host
	Logger   logger.Logger
	Features *Features

	marshaller      *marshaller.Marshaller
	inputs          map[string]*wire.TypedData
	triggerMetadata map[string]*wire.TypedData

	outputsLock sync.Mutex
	outputs     map[string]interface{}
	outputOrder []string

	httpRequestOnce sync.Once
	httpRequest     *marshaller.HTTPRequest
	httpRequestErr  error
}

// Inputs returns the raw input bindings by name
func (c *Context) Inputs() map[string]*wire.TypedData {
	inputs := make(map[string]*wire.TypedData, len(c.inputs))
	for name, data := range c.inputs {
		inputs[name] = data
	}

	return inputs
}

// Input returns a single raw input binding
func (c *Context) Input(name string) (*wire.TypedData, bool) {
	data, found := c.inputs[name]
	return data, found
}

// BindInput decodes an input binding into target
func (c *Context) BindInput(name string, target interface{}) error {
	data, found := c.inputs[name]
	if !found {
		return errors.Wrapf(ErrMissingInput, "Input: %s", name)
	}

	if err := c.marshaller.FromWire(data, target); err != nil {
		return errors.Wrapf(err, "Failed to bind input %s", name)
	}

	return nil
}

// TriggerMetadata returns the trigger metadata sent with the invocation
func (c *Context) TriggerMetadata() map[string]*wire.TypedData {
	return c.triggerMetadata
}

// HTTPRequest decodes the HTTP trigger input, if the function has one
func (c *Context) HTTPRequest() (*marshaller.HTTPRequest, error) {
	c.httpRequestOnce.Do(func() {
		bindingName, found := c.Descriptor.HTTPTriggerBinding()
		if !found {
			c.httpRequestErr = errors.New("Function has no HTTP trigger binding")
			return
		}

		data, found := c.inputs[bindingName]
		if !found || data.GetKind() != wire.DataKindHTTP {
			c.httpRequestErr = errors.Errorf("Input %s does not carry an HTTP request", bindingName)
			return
		}

		c.httpRequest, c.httpRequestErr = c.marshaller.HTTPRequestFromWire(data.HTTP)
	})

	return c.httpRequest, c.httpRequestErr
}

// SetOutput sets the value of an output binding. Only declared output bindings are accepted
func (c *Context) SetOutput(name string, value interface{}) error {
	if !c.Descriptor.HasOutput(name) {
		return errors.Wrapf(ErrUndeclaredOutput, "Output: %s", name)
	}

	c.outputsLock.Lock()
	defer c.outputsLock.Unlock()

	if _, exists := c.outputs[name]; !exists {
		c.outputOrder = append(c.outputOrder, name)
	}

	c.outputs[name] = value
	return nil
}

// Outputs returns the output values set so far
func (c *Context) Outputs() map[string]interface{} {
	c.outputsLock.Lock()
	defer c.outputsLock.Unlock()

	outputs := make(map[string]interface{}, len(c.outputs))
	for name, value := range c.outputs {
		outputs[name] = value
	}

	return outputs
}

// OutputNames returns the names of the outputs that were set, in the order they were first set
func (c *Context) OutputNames() []string {
	c.outputsLock.Lock()
	defer c.outputsLock.Unlock()

	return append([]string{}, c.outputOrder...)
}

// Marshaller returns the marshaller used by the invocation
func (c *Context) Marshaller() *marshaller.Marshaller {
	return c.marshaller
}
