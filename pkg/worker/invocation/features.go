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
	"sort"
	"sync"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// Features is a concurrent bag of named values attached to an invocation
type Features struct {
	lock     sync.RWMutex
	features map[string]interface{}
}

func NewFeatures() *Features {
	return &Features{
		features: map[string]interface{}{},
	}
}

func (f *Features) Set(name string, value interface{}) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.features[name] = value
}

func (f *Features) Get(name string) (interface{}, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	value, found := f.features[name]
	return value, found
}

// MustGet returns a feature or ErrMissingFeature
func (f *Features) MustGet(name string) (interface{}, error) {
	value, found := f.Get(name)
	if !found {
		return nil, errors.Wrapf(ErrMissingFeature, "Feature: %s", name)
	}

	return value, nil
}

// Names returns the sorted feature names
func (f *Features) Names() []string {
	f.lock.RLock()
	names := lo.Keys(f.features)
	f.lock.RUnlock()

	sort.Strings(names)
	return names
}
