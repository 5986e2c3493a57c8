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

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// Catalog maps entry points to the functions compiled into the worker
type Catalog struct {
	lock      sync.RWMutex
	functions map[string]invocation.Function
}

// NewCatalog creates a catalog holding the built in entry points
func NewCatalog() *Catalog {
	return &Catalog{
		functions: map[string]invocation.Function{
			EchoEntryPoint: invocation.FunctionFunc(echo),
		},
	}
}

// Register adds an entry point. Entry points register once, normally during initialization
func (c *Catalog) Register(entryPoint string, function invocation.Function) error {
	if function == nil {
		return errors.Errorf("Entry point %s has no function", entryPoint)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, found := c.functions[entryPoint]; found {
		return errors.Errorf("Entry point already registered: %s", entryPoint)
	}

	c.functions[entryPoint] = function
	return nil
}

// Get returns the function of an entry point
func (c *Catalog) Get(entryPoint string) (invocation.Function, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	function, found := c.functions[entryPoint]
	if !found {
		return nil, errors.Errorf("Catalog failed to find entry point: %s", entryPoint)
	}

	return function, nil
}

// EntryPoints returns the sorted registered entry points
func (c *Catalog) EntryPoints() []string {
	c.lock.RLock()
	entryPoints := lo.Keys(c.functions)
	c.lock.RUnlock()

	sort.Strings(entryPoints)
	return entryPoints
}
