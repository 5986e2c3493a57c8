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

package loop

import (
	"os"
	"runtime"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/shirou/gopsutil/process"
)

func collectProcessStats() (*wire.ProcessStats, error) {
	workerProcess, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get worker process")
	}

	memoryInfo, err := workerProcess.MemoryInfo()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get memory info")
	}

	cpuPercent, err := workerProcess.CPUPercent()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get CPU usage")
	}

	return &wire.ProcessStats{
		RSSBytes:      memoryInfo.RSS,
		CPUPercent:    cpuPercent,
		NumGoroutines: runtime.NumGoroutine(),
	}, nil
}
