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
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/mitchellh/go-homedir"
	"github.com/nuclio/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxMessageLength    = 128 * 1024 * 1024
	DefaultShutdownGracePeriod = 30 * time.Second
)

type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Read parses YAML configuration into config
func (r *Reader) Read(reader io.Reader, config *Config) error {
	configBytes, err := io.ReadAll(reader)
	if err != nil {
		return errors.Wrap(err, "Failed to read worker configuration")
	}

	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return errors.Wrap(err, "Failed to parse worker configuration")
	}

	return nil
}

// ReadFileOrDefault reads the configuration file, if given, and fills whatever it leaves out from
// the defaults
func (r *Reader) ReadFileOrDefault(configurationPath string) (*Config, error) {
	workerConfiguration := Config{}

	if configurationPath != "" {
		expandedPath, err := homedir.Expand(configurationPath)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to expand configuration path %s", configurationPath)
		}

		configurationFile, err := os.Open(expandedPath)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to open configuration file %s", expandedPath)
		}

		// close after
		defer configurationFile.Close() // nolint: errcheck

		if err := r.Read(configurationFile, &workerConfiguration); err != nil {
			return nil, errors.Wrap(err, "Failed to read configuration file")
		}
	}

	if err := r.MergeDefaults(&workerConfiguration); err != nil {
		return nil, err
	}

	return &workerConfiguration, nil
}

// MergeDefaults fills the unset fields of config
func (r *Reader) MergeDefaults(config *Config) error {
	if err := mergo.Merge(config, r.GetDefaultConfiguration()); err != nil {
		return errors.Wrap(err, "Failed to merge default configuration")
	}

	if config.FunctionAppDirectory != "" {
		expandedDirectory, err := homedir.Expand(config.FunctionAppDirectory)
		if err != nil {
			return errors.Wrapf(err, "Failed to expand function app directory %s", config.FunctionAppDirectory)
		}

		config.FunctionAppDirectory = expandedDirectory
	}

	return nil
}

func (r *Reader) GetDefaultConfiguration() *Config {
	falseValue := false

	return &Config{
		Host:                 "127.0.0.1",
		WorkerID:             uuid.New().String(),
		GRPCMaxMessageLength: DefaultMaxMessageLength,
		ShutdownGracePeriod:  DefaultShutdownGracePeriod,
		HTTPIngress: HTTPIngress{
			WebServer: WebServer{
				Enabled:       &falseValue,
				ListenAddress: ":8090",
			},
		},
		Admin: WebServer{
			Enabled:       &falseValue,
			ListenAddress: ":8091",
		},
		Logger: Logger{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate returns an error if the configuration cannot be used to start a worker
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("Host must be set")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("Invalid port %d", c.Port)
	}

	if c.WorkerID == "" {
		return errors.New("Worker ID must be set")
	}

	if c.GRPCMaxMessageLength <= 0 {
		return errors.Errorf("Invalid grpc max message length %d", c.GRPCMaxMessageLength)
	}

	if c.HTTPIngress.CorrelationTTL < 0 {
		return errors.New("Correlation TTL must not be negative")
	}

	if c.HTTPIngress.IsEnabled() && c.HTTPIngress.ListenAddress == "" {
		return errors.New("HTTP ingress listen address must be set")
	}

	if c.Admin.IsEnabled() && c.Admin.ListenAddress == "" {
		return errors.New("Admin listen address must be set")
	}

	switch c.Logger.Encoding {
	case "json", "console":
	default:
		return errors.Errorf("Unsupported logger encoding %s", c.Logger.Encoding)
	}

	return nil
}
