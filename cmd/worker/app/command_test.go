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
	"os"
	"path/filepath"
	"testing"

	"github.com/nuclio/nuclio-worker/pkg/worker/functionregistry"

	"github.com/stretchr/testify/suite"
)

type CommandTestSuite struct {
	suite.Suite
	commandeer *RootCommandeer
}

func (suite *CommandTestSuite) SetupTest() {
	suite.commandeer = NewRootCommandeer(functionregistry.NewCatalog())
}

func (suite *CommandTestSuite) TestFlagsOnly() {
	suite.parseFlags("--host", "10.0.0.1",
		"--port", "7071",
		"--worker-id", "w1",
		"--request-id", "r1",
		"--grpc-max-message-length", "2048",
		"--log-level", "debug")

	configuration, err := suite.commandeer.resolveConfiguration()
	suite.Require().NoError(err)

	suite.Require().Equal("10.0.0.1", configuration.Host)
	suite.Require().Equal(7071, configuration.Port)
	suite.Require().Equal("w1", configuration.WorkerID)
	suite.Require().Equal("r1", configuration.RequestID)
	suite.Require().Equal(2048, configuration.GRPCMaxMessageLength)
	suite.Require().Equal("debug", configuration.Logger.Level)
	suite.Require().False(configuration.HTTPIngress.IsEnabled())
	suite.Require().False(configuration.Admin.IsEnabled())
	suite.Require().NoError(configuration.Validate())
}

func (suite *CommandTestSuite) TestFlagsOverrideFile() {
	configurationPath := filepath.Join(suite.T().TempDir(), "worker.yaml")
	suite.Require().NoError(os.WriteFile(configurationPath, []byte(`
host: 192.168.1.1
port: 9000
workerId: from-file
logger:
  level: warn
`), 0644))

	suite.parseFlags("--config", configurationPath,
		"--port", "9001",
		"--http-listen-address", ":9090",
		"--admin-listen-address", ":9091")

	configuration, err := suite.commandeer.resolveConfiguration()
	suite.Require().NoError(err)

	suite.Require().Equal("192.168.1.1", configuration.Host)
	suite.Require().Equal(9001, configuration.Port)
	suite.Require().Equal("from-file", configuration.WorkerID)
	suite.Require().Equal("warn", configuration.Logger.Level)
	suite.Require().True(configuration.HTTPIngress.IsEnabled())
	suite.Require().Equal(":9090", configuration.HTTPIngress.ListenAddress)
	suite.Require().True(configuration.Admin.IsEnabled())
	suite.Require().Equal(":9091", configuration.Admin.ListenAddress)
}

func (suite *CommandTestSuite) TestMissingConfigurationFile() {
	suite.parseFlags("--config", filepath.Join(suite.T().TempDir(), "missing.yaml"))

	_, err := suite.commandeer.resolveConfiguration()
	suite.Require().Error(err)
}

func (suite *CommandTestSuite) TestWorkerRequiresPort() {
	suite.parseFlags("--worker-id", "w1")

	configuration, err := suite.commandeer.resolveConfiguration()
	suite.Require().NoError(err)

	_, err = NewWorker(configuration, nil)
	suite.Require().Error(err)
}

func (suite *CommandTestSuite) parseFlags(args ...string) {
	suite.Require().NoError(suite.commandeer.GetCmd().ParseFlags(args))
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
