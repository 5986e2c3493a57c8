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
	"github.com/nuclio/errors"
)

// SuccessResult returns a status result with a success status
func SuccessResult() *StatusResult {
	return &StatusResult{Status: StatusSuccess}
}

// FailureResult returns a failure status result describing err. The stack, when available, is the
// error stack recorded by nuclio/errors
func FailureResult(source string, err error) *StatusResult {
	return &StatusResult{
		Status:    StatusFailure,
		Result:    errors.RootCause(err).Error(),
		Exception: NewRpcException(source, err, ""),
	}
}

// FailureResultWithStack is like FailureResult but with an explicit stack trace (e.g. captured in a recover)
func FailureResultWithStack(source string, err error, stackTrace string) *StatusResult {
	return &StatusResult{
		Status:    StatusFailure,
		Result:    errors.RootCause(err).Error(),
		Exception: NewRpcException(source, err, stackTrace),
	}
}

// NewRpcException converts an error to its wire representation
func NewRpcException(source string, err error, stackTrace string) *RpcException {
	if err == nil {
		return nil
	}

	if stackTrace == "" {
		stackTrace = errors.GetErrorStackString(err, 10)
	}

	return &RpcException{
		Source:     source,
		Message:    err.Error(),
		StackTrace: stackTrace,
	}
}

// IsSuccess returns true if the result exists and carries a success status
func (sr *StatusResult) IsSuccess() bool {
	return sr != nil && sr.Status == StatusSuccess
}
