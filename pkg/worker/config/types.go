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

package config

import (
	"time"
)

type WebServer struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	ListenAddress string `yaml:"listenAddress,omitempty"`
}

// IsEnabled returns the value of Enabled, treating nil as disabled
func (ws *WebServer) IsEnabled() bool {
	return ws.Enabled != nil && *ws.Enabled
}

type HTTPIngress struct {
	WebServer `yaml:",inline"`

	// zero disables expiry of correlation entries
	CorrelationTTL  time.Duration `yaml:"correlationTTL,omitempty"`
	JanitorInterval time.Duration `yaml:"janitorInterval,omitempty"`
}

type Logger struct {
	Level    string `yaml:"level,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`
}

// Config is the configuration of a worker process
type Config struct {
	Host                 string        `yaml:"host,omitempty"`
	Port                 int           `yaml:"port,omitempty"`
	WorkerID             string        `yaml:"workerId,omitempty"`
	RequestID            string        `yaml:"requestId,omitempty"`
	GRPCMaxMessageLength int           `yaml:"grpcMaxMessageLength,omitempty"`
	FunctionAppDirectory string        `yaml:"functionAppDirectory,omitempty"`
	MinimumHostVersion   string        `yaml:"minimumHostVersion,omitempty"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdownGracePeriod,omitempty"`
	HTTPIngress          HTTPIngress   `yaml:"httpIngress,omitempty"`
	Admin                WebServer     `yaml:"admin,omitempty"`
	Logger               Logger        `yaml:"logger,omitempty"`
}
