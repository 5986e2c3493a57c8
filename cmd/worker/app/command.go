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

package app

import (
	"github.com/nuclio/nuclio-worker/pkg/worker/config"
	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type RootCommandeer struct {
	cmd     *cobra.Command
	catalog *functionregistry.Catalog

	configurationPath    string
	host                 string
	port                 int
	workerID             string
	requestID            string
	grpcMaxMessageLength int
	functionAppDirectory string
	httpListenAddress    string
	adminListenAddress   string
	logLevel             string
}

// NewRootCommandeer creates the worker command. Functions on catalog can be loaded by the host
func NewRootCommandeer(catalog *functionregistry.Catalog) *RootCommandeer {
	commandeer := &RootCommandeer{
		catalog: catalog,
	}

	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Out of process function worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := commandeer.resolveConfiguration()
			if err != nil {
				return errors.Wrap(err, "Failed to resolve configuration")
			}

			worker, err := NewWorker(configuration, commandeer.catalog)
			if err != nil {
				return errors.Wrap(err, "Failed to create worker")
			}

			return worker.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&commandeer.configurationPath, "config", "c", "", "Path of configuration file")
	cmd.Flags().StringVar(&commandeer.host, "host", "", "Host address to connect to")
	cmd.Flags().IntVar(&commandeer.port, "port", 0, "Host port to connect to")
	cmd.Flags().StringVar(&commandeer.workerID, "worker-id", "", "Worker identifier, assigned by the host")
	cmd.Flags().StringVar(&commandeer.requestID, "request-id", "", "Identifier of the host request that started the worker")
	cmd.Flags().IntVar(&commandeer.grpcMaxMessageLength, "grpc-max-message-length", 0, "Max message length in bytes")
	cmd.Flags().StringVar(&commandeer.functionAppDirectory, "functions-directory", "", "Function app directory")
	cmd.Flags().StringVar(&commandeer.httpListenAddress, "http-listen-address", "", "Enables the HTTP ingress on the given address")
	cmd.Flags().StringVar(&commandeer.adminListenAddress, "admin-listen-address", "", "Enables the admin server on the given address")
	cmd.Flags().StringVar(&commandeer.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	commandeer.cmd = cmd

	return commandeer
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

// resolveConfiguration reads the configuration file, if any, and applies explicitly passed flags over it
func (rc *RootCommandeer) resolveConfiguration() (*config.Config, error) {
	reader := config.NewReader()

	configuration, err := reader.ReadFileOrDefault(rc.configurationPath)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read configuration")
	}

	flags := rc.cmd.Flags()
	enabled := true

	if flags.Changed("host") {
		configuration.Host = rc.host
	}

	if flags.Changed("port") {
		configuration.Port = rc.port
	}

	if flags.Changed("worker-id") {
		configuration.WorkerID = rc.workerID
	}

	if flags.Changed("request-id") {
		configuration.RequestID = rc.requestID
	}

	if flags.Changed("grpc-max-message-length") {
		configuration.GRPCMaxMessageLength = rc.grpcMaxMessageLength
	}

	if flags.Changed("functions-directory") {
		configuration.FunctionAppDirectory = rc.functionAppDirectory
	}

	if flags.Changed("http-listen-address") {
		configuration.HTTPIngress.Enabled = &enabled
		configuration.HTTPIngress.ListenAddress = rc.httpListenAddress
	}

	if flags.Changed("admin-listen-address") {
		configuration.Admin.Enabled = &enabled
		configuration.Admin.ListenAddress = rc.adminListenAddress
	}

	if flags.Changed("log-level") {
		configuration.Logger.Level = rc.logLevel
	}

	// expands the function app directory passed by flag
	if err := reader.MergeDefaults(configuration); err != nil {
		return nil, errors.Wrap(err, "Failed to merge defaults")
	}

	return configuration, nil
}
