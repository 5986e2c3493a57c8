/*
Copyright The Kubernetes Authors.

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

package errgroup

import (
	"context"
	"runtime/debug"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"golang.org/x/sync/errgroup"
)

const DefaultErrgroupConcurrency = 10

// Group is an errgroup whose goroutines are named and recover from panics. A panicking goroutine
// fails the group like any other error
type Group struct {
	*errgroup.Group
	logger logger.Logger
	ctx    context.Context
}

// WithContext creates a group running at most concurrency goroutines at once. A non-positive
// concurrency leaves the group unbounded
func WithContext(ctx context.Context, loggerInstance logger.Logger, concurrency int) (*Group, context.Context) {
	newBaseErrgroup, errgroupCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		newBaseErrgroup.SetLimit(concurrency)
	}

	return &Group{
		Group:  newBaseErrgroup,
		logger: loggerInstance,
		ctx:    errgroupCtx,
	}, errgroupCtx
}

func (g *Group) Go(actionName string, f func() error) {
	wrapper := func() (err error) {
		defer func() {
			if recoveredErr := recover(); recoveredErr != nil {
				g.logger.ErrorWithCtx(g.ctx, "Panic caught while running action",
					"actionName", actionName,
					"err", recoveredErr,
					"stack", string(debug.Stack()))

				err = errors.Errorf("Panic in %s: %v", actionName, recoveredErr)
			}
		}()

		if err = f(); err != nil {
			err = errors.Wrapf(err, "Action %s failed", actionName)
		}

		return
	}

	g.Group.Go(wrapper)
}
