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

package environment

import (
	"os"
	"regexp"
	"sync"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/mitchellh/go-homedir"
	"github.com/nuclio/errors"
	"github.com/nuclio/gosecretive"
	"github.com/nuclio/logger"
)

const redactedPrefix = "$redacted:"

var sensitiveVariableNames = regexp.MustCompile("(?i)(secret|password|passwd|token|key|credential)")

// Reloader applies environment reload requests to the worker process
type Reloader struct {
	logger logger.Logger

	// the process environment and working directory are process wide
	lock sync.Mutex
}

func NewReloader(parentLogger logger.Logger) *Reloader {
	return &Reloader{
		logger: parentLogger.GetChild("environment"),
	}
}

// Reload sets the requested environment variables and switches to the function app directory, if given
func (r *Reloader) Reload(request *wire.FunctionEnvironmentReloadRequest) error {
	if request == nil {
		return errors.New("Environment reload request is empty")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	scrubbedVariables, _ := ScrubVariables(request.EnvironmentVariables)

	r.logger.DebugWith("Reloading environment",
		"variables", scrubbedVariables,
		"functionAppDirectory", request.FunctionAppDirectory)

	for name, value := range request.EnvironmentVariables {
		if err := os.Setenv(name, value); err != nil {
			return errors.Wrapf(err, "Failed to set environment variable %s", name)
		}
	}

	if request.FunctionAppDirectory == "" {
		return nil
	}

	functionAppDirectory, err := homedir.Expand(request.FunctionAppDirectory)
	if err != nil {
		return errors.Wrapf(err, "Failed to expand function app directory %s", request.FunctionAppDirectory)
	}

	if err := os.Chdir(functionAppDirectory); err != nil {
		return errors.Wrapf(err, "Failed to change directory to %s", functionAppDirectory)
	}

	r.logger.InfoWith("Changed function app directory", "functionAppDirectory", functionAppDirectory)

	return nil
}

// ScrubVariables returns the variables with the values of sensitive names replaced, and the secrets
// that were removed keyed by their placeholders
func ScrubVariables(variables map[string]string) (interface{}, map[string]string) {
	if len(variables) == 0 {
		return nil, nil
	}

	variablesAsMap := make(map[string]interface{}, len(variables))
	for name, value := range variables {
		variablesAsMap[name] = value
	}

	return gosecretive.Scrub(variablesAsMap, func(fieldPath string, valueToScrub interface{}) *string {
		if !sensitiveVariableNames.MatchString(fieldPath) {
			return nil
		}

		// empty values carry no secret
		if stringValue, isString := valueToScrub.(string); isString && stringValue == "" {
			return nil
		}

		placeholder := redactedPrefix + fieldPath
		return &placeholder
	})
}
