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

package functionregistry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nuclio/nuclio-worker/pkg/worker/invocation"
	"github.com/nuclio/nuclio-worker/pkg/worker/marshaller"
	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	logger   logger.Logger
	registry *Registry
	catalog  *Catalog
}

func (suite *RegistryTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.registry = NewRegistry(suite.logger)
	suite.catalog = NewCatalog()
}

func (suite *RegistryTestSuite) TestRegisterTwiceKeepsFirst() {
	first := suite.loadDefinition("f1", "first", nil)
	second := suite.loadDefinition("f1", "second", map[string]*wire.BindingInfo{
		"out": {Type: "queue", Direction: wire.BindingDirectionOut},
	})

	suite.Require().NoError(suite.registry.Register(first))

	err := suite.registry.Register(second)
	suite.Require().Error(err)
	suite.Require().Equal(ErrFunctionAlreadyRegistered, errors.RootCause(err))

	resolved, err := suite.registry.Resolve("f1")
	suite.Require().NoError(err)
	suite.Require().Same(first, resolved)
	suite.Require().Equal("first", resolved.Name)
	suite.Require().Empty(resolved.OutputBindings)
	suite.Require().Equal(1, suite.registry.Len())
}

func (suite *RegistryTestSuite) TestConcurrentRegistrationSingleWinner() {
	var successes int64
	waitGroup := sync.WaitGroup{}

	for idx := 0; idx < 64; idx++ {
		waitGroup.Add(1)

		go func(idx int) {
			defer waitGroup.Done()

			definition := suite.loadDefinition("contended", fmt.Sprintf("name-%d", idx), nil)
			if err := suite.registry.Register(definition); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}(idx)
	}

	waitGroup.Wait()

	suite.Require().Equal(int64(1), successes)
	suite.Require().Equal(1, suite.registry.Len())
	suite.Require().Len(suite.registry.Definitions(), 1)
}

func (suite *RegistryTestSuite) TestResolveMissing() {
	_, err := suite.registry.Resolve("missing")
	suite.Require().Error(err)
	suite.Require().Equal(ErrFunctionNotFound, errors.RootCause(err))

	_, _, err = suite.registry.ResolveFunction("missing")
	suite.Require().Error(err)
}

func (suite *RegistryTestSuite) TestResolveFunction() {
	suite.Require().NoError(suite.registry.Register(suite.loadDefinition("f1", "orders", nil)))

	descriptor, function, err := suite.registry.ResolveFunction("f1")
	suite.Require().NoError(err)
	suite.Require().Equal("orders", descriptor.Name)
	suite.Require().NotNil(function)
}

func (suite *RegistryTestSuite) TestDefinitionFromLoadRequest() {
	definition, err := NewDefinitionFromLoadRequest(&wire.FunctionLoadRequest{
		FunctionID: "f1",
		Metadata: &wire.RpcFunctionMetadata{
			Name:       "orders",
			Directory:  "/home/site/wwwroot/orders",
			EntryPoint: EchoEntryPoint,
			Bindings: map[string]*wire.BindingInfo{
				"res": {Type: "http", Direction: "OUT"},
			},
			RawBindings: []string{
				`{"name":"req","type":"httpTrigger","direction":"in","authLevel":"anonymous","methods":["get","post"]}`,
				`{"name":"item","type":"blob","direction":"inout","path":"items/{id}"}`,
				`{"name":"res","type":"ignored","direction":"in"}`,
			},
		},
	}, suite.catalog)
	suite.Require().NoError(err)

	suite.Require().Equal("f1", definition.FunctionID)
	suite.Require().Equal("orders", definition.Name)
	suite.Require().Equal("/home/site/wwwroot/orders", definition.Directory)

	// trigger first, then by name
	suite.Require().Equal([]Parameter{
		{Name: "req", Type: "httpTrigger", Direction: wire.BindingDirectionIn},
		{Name: "item", Type: "blob", Direction: wire.BindingDirectionInOut},
		{Name: "res", Type: "http", Direction: wire.BindingDirectionOut},
	}, definition.Parameters)

	suite.Require().Len(definition.InputBindings, 2)
	suite.Require().Len(definition.OutputBindings, 2)
	suite.Require().True(definition.HasOutput("res"))
	suite.Require().True(definition.HasOutput("item"))
	suite.Require().False(definition.HasOutput("req"))

	suite.Require().Equal(map[string]string{
		"authLevel": "anonymous",
		"methods":   `["get","post"]`,
	}, definition.InputBindings["req"].Properties)

	bindingName, found := definition.HTTPTriggerBinding()
	suite.Require().True(found)
	suite.Require().Equal("req", bindingName)
}

func (suite *RegistryTestSuite) TestDefinitionFromInvalidLoadRequest() {
	for _, testCase := range []struct {
		name    string
		request *wire.FunctionLoadRequest
	}{
		{name: "nil", request: nil},
		{name: "no metadata", request: &wire.FunctionLoadRequest{FunctionID: "f1"}},
		{name: "no id", request: &wire.FunctionLoadRequest{Metadata: &wire.RpcFunctionMetadata{
			EntryPoint: EchoEntryPoint,
		}}},
		{name: "unknown entry point", request: &wire.FunctionLoadRequest{
			FunctionID: "f1",
			Metadata:   &wire.RpcFunctionMetadata{EntryPoint: "main:Missing"},
		}},
		{name: "bad raw binding", request: &wire.FunctionLoadRequest{
			FunctionID: "f1",
			Metadata: &wire.RpcFunctionMetadata{
				EntryPoint:  EchoEntryPoint,
				RawBindings: []string{`{"name":`},
			},
		}},
		{name: "bad direction", request: &wire.FunctionLoadRequest{
			FunctionID: "f1",
			Metadata: &wire.RpcFunctionMetadata{
				EntryPoint: EchoEntryPoint,
				Bindings:   map[string]*wire.BindingInfo{"x": {Type: "queue", Direction: "sideways"}},
			},
		}},
	} {
		suite.Run(testCase.name, func() {
			_, err := NewDefinitionFromLoadRequest(testCase.request, suite.catalog)
			suite.Require().Error(err)
		})
	}
}

func (suite *RegistryTestSuite) TestCatalog() {
	function := invocation.FunctionFunc(func(ctx context.Context, invocationContext *invocation.Context) (interface{}, error) {
		return "ok", nil
	})

	suite.Require().NoError(suite.catalog.Register("main:Handler", function))
	suite.Require().Error(suite.catalog.Register("main:Handler", function))
	suite.Require().Error(suite.catalog.Register("main:Nil", nil))

	suite.Require().Equal([]string{"main:Handler", EchoEntryPoint}, suite.catalog.EntryPoints())

	_, err := suite.catalog.Get("main:Missing")
	suite.Require().Error(err)
}

func (suite *RegistryTestSuite) TestEchoFunction() {
	definition := suite.loadDefinition("f1", "echo", map[string]*wire.BindingInfo{
		"name": {Type: "queueTrigger", Direction: wire.BindingDirectionIn},
		"out":  {Type: "queue", Direction: wire.BindingDirectionOut},
	})
	suite.Require().NoError(suite.registry.Register(definition))

	factory := invocation.NewFactory(suite.logger, suite.registry, marshaller.NewMarshaller(suite.logger), nil)
	invocationContext, err := factory.Create(context.Background(), "r1", &wire.InvocationRequest{
		InvocationID: "i1",
		FunctionID:   "f1",
		InputData: []*wire.ParameterBinding{
			{Name: "name", Data: &wire.TypedData{Kind: wire.DataKindString, String: "nuclio"}},
		},
	})
	suite.Require().NoError(err)

	result, err := invocationContext.Function.Invoke(context.Background(), invocationContext)
	suite.Require().NoError(err)
	suite.Require().Equal(map[string]interface{}{"name": "nuclio"}, result)
	suite.Require().Equal(map[string]interface{}{"out": result}, invocationContext.Outputs())
}

func (suite *RegistryTestSuite) loadDefinition(functionID string,
	name string,
	bindings map[string]*wire.BindingInfo) *Definition {
	definition, err := NewDefinitionFromLoadRequest(&wire.FunctionLoadRequest{
		FunctionID: functionID,
		Metadata: &wire.RpcFunctionMetadata{
			Name:       name,
			EntryPoint: EchoEntryPoint,
			Bindings:   bindings,
		},
	}, suite.catalog)
	suite.Require().NoError(err)

	return definition
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
