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

package healthcheck

import (
	"github.com/nuclio/nuclio-worker/pkg/common/status"

	"github.com/heptiolabs/healthcheck"
	"github.com/nuclio/errors"
)

// NewHandler creates a health handler for an entity with a reportable status. The entity is ready
// while it streams and alive unless it failed
func NewHandler(name string, statusProvider status.Provider) healthcheck.Handler {
	handler := healthcheck.NewHandler()

	handler.AddReadinessCheck(name+"_readiness", func() error {
		if currentStatus := statusProvider.GetStatus(); currentStatus != status.Streaming {
			return errors.Errorf("Not ready while %s", currentStatus)
		}

		return nil
	})

	handler.AddLivenessCheck(name+"_liveness", func() error {
		if statusProvider.GetStatus() == status.Error {
			return errors.New("Event stream failed")
		}

		return nil
	})

	return handler
}
