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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

var (
	ErrFunctionAlreadyRegistered = errors.New("Function already registered")
	ErrFunctionNotFound          = errors.New("Function not found")
)

// Registry maps function ids to their definitions. Definitions are never replaced or removed
type Registry struct {
	logger      logger.Logger
	definitions sync.Map
	count       int64
}

func NewRegistry(parentLogger logger.Logger) *Registry {
	return &Registry{
		logger: parentLogger.GetChild("registry"),
	}
}

// Register adds a definition. Registering an id twice fails and keeps the first definition
func (r *Registry) Register(definition *Definition) error {
	if definition == nil || definition.FunctionID == "" {
		return errors.New("Definition must have a function id")
	}

	if existing, loaded := r.definitions.LoadOrStore(definition.FunctionID, definition); loaded {
		r.logger.WarnWith("Rejecting duplicate function registration",
			"functionID", definition.FunctionID,
			"existingName", existing.(*Definition).Name,
			"rejectedName", definition.Name)

		return errors.Wrapf(ErrFunctionAlreadyRegistered, "Function ID: %s", definition.FunctionID)
	}

	atomic.AddInt64(&r.count, 1)

	r.logger.DebugWith("Function registered",
		"functionID", definition.FunctionID,
		"name", definition.Name,
		"entryPoint", definition.EntryPoint)

	return nil
}

// Resolve returns the definition of a function
func (r *Registry) Resolve(functionID string) (*Definition, error) {
	definition, found := r.definitions.Load(functionID)
	if !found {
		return nil, errors.Wrapf(ErrFunctionNotFound, "Function ID: %s", functionID)
	}

	return definition.(*Definition), nil
}

// ResolveFunction implements invocation.Resolver
func (r *Registry) ResolveFunction(functionID string) (*invocation.Descriptor, invocation.Function, error) {
	definition, err := r.Resolve(functionID)
	if err != nil {
		return nil, nil, err
	}

	return &definition.Descriptor, definition.Function, nil
}

// Definitions returns all registered definitions, ordered by id
func (r *Registry) Definitions() []*Definition {
	var definitions []*Definition

	r.definitions.Range(func(key, value interface{}) bool {
		definitions = append(definitions, value.(*Definition))
		return true
	})

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].FunctionID < definitions[j].FunctionID
	})

	return definitions
}

// Len returns the number of registered functions
func (r *Registry) Len() int {
	return int(atomic.LoadInt64(&r.count))
}
