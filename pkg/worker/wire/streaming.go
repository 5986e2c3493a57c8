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

// ErrInvalidContent is returned when a message carries zero or more than one payload
var ErrInvalidContent = errors.New("Message must carry exactly one payload")

// ContentKind is the tag of the payload a message carries
type ContentKind string

const (
	ContentKindNone                           ContentKind = ""
	ContentKindStartStream                    ContentKind = "startStream"
	ContentKindWorkerInitRequest              ContentKind = "workerInitRequest"
	ContentKindWorkerInitResponse             ContentKind = "workerInitResponse"
	ContentKindFunctionLoadRequest            ContentKind = "functionLoadRequest"
	ContentKindFunctionLoadResponse           ContentKind = "functionLoadResponse"
	ContentKindFunctionLoadRequestCollection  ContentKind = "functionLoadRequestCollection"
	ContentKindFunctionLoadResponseCollection ContentKind = "functionLoadResponseCollection"
	ContentKindInvocationRequest              ContentKind = "invocationRequest"
	ContentKindInvocationResponse             ContentKind = "invocationResponse"
	ContentKindEnvironmentReloadRequest       ContentKind = "functionEnvironmentReloadRequest"
	ContentKindEnvironmentReloadResponse      ContentKind = "functionEnvironmentReloadResponse"
	ContentKindWorkerStatusRequest            ContentKind = "workerStatusRequest"
	ContentKindWorkerStatusResponse           ContentKind = "workerStatusResponse"
	ContentKindInvocationCancel               ContentKind = "invocationCancel"
	ContentKindWorkerTerminate                ContentKind = "workerTerminate"
	ContentKindRpcLog                         ContentKind = "rpcLog"
)

// Content holds the payload of a message. Exactly one field must be set
type Content struct {
	StartStream                    *StartStream                       `msgpack:"startStream,omitempty"`
	WorkerInitRequest              *WorkerInitRequest                 `msgpack:"workerInitRequest,omitempty"`
	WorkerInitResponse             *WorkerInitResponse                `msgpack:"workerInitResponse,omitempty"`
	FunctionLoadRequest            *FunctionLoadRequest               `msgpack:"functionLoadRequest,omitempty"`
	FunctionLoadResponse           *FunctionLoadResponse              `msgpack:"functionLoadResponse,omitempty"`
	FunctionLoadRequestCollection  *FunctionLoadRequestCollection     `msgpack:"functionLoadRequestCollection,omitempty"`
	FunctionLoadResponseCollection *FunctionLoadResponseCollection    `msgpack:"functionLoadResponseCollection,omitempty"`
	InvocationRequest              *InvocationRequest                 `msgpack:"invocationRequest,omitempty"`
	InvocationResponse             *InvocationResponse                `msgpack:"invocationResponse,omitempty"`
	EnvironmentReloadRequest       *FunctionEnvironmentReloadRequest  `msgpack:"functionEnvironmentReloadRequest,omitempty"`
	EnvironmentReloadResponse      *FunctionEnvironmentReloadResponse `msgpack:"functionEnvironmentReloadResponse,omitempty"`
	WorkerStatusRequest            *WorkerStatusRequest               `msgpack:"workerStatusRequest,omitempty"`
	WorkerStatusResponse           *WorkerStatusResponse              `msgpack:"workerStatusResponse,omitempty"`
	InvocationCancel               *InvocationCancel                  `msgpack:"invocationCancel,omitempty"`
	WorkerTerminate                *WorkerTerminate                   `msgpack:"workerTerminate,omitempty"`
	RpcLog                         *RpcLog                            `msgpack:"rpcLog,omitempty"`
}

// StreamingMessage is the single unit exchanged over the event stream
type StreamingMessage struct {
	RequestID string  `msgpack:"requestId"`
	Content   Content `msgpack:"content"`
}

// ContentKind returns the tag of the single payload the message carries
func (sm *StreamingMessage) ContentKind() (ContentKind, error) {
	if sm == nil {
		return ContentKindNone, ErrInvalidContent
	}

	c := &sm.Content
	kind := ContentKindNone
	count := 0

	for _, candidate := range []struct {
		set  bool
		kind ContentKind
	}{
		{c.StartStream != nil, ContentKindStartStream},
		{c.WorkerInitRequest != nil, ContentKindWorkerInitRequest},
		{c.WorkerInitResponse != nil, ContentKindWorkerInitResponse},
		{c.FunctionLoadRequest != nil, ContentKindFunctionLoadRequest},
		{c.FunctionLoadResponse != nil, ContentKindFunctionLoadResponse},
		{c.FunctionLoadRequestCollection != nil, ContentKindFunctionLoadRequestCollection},
		{c.FunctionLoadResponseCollection != nil, ContentKindFunctionLoadResponseCollection},
		{c.InvocationRequest != nil, ContentKindInvocationRequest},
		{c.InvocationResponse != nil, ContentKindInvocationResponse},
		{c.EnvironmentReloadRequest != nil, ContentKindEnvironmentReloadRequest},
		{c.EnvironmentReloadResponse != nil, ContentKindEnvironmentReloadResponse},
		{c.WorkerStatusRequest != nil, ContentKindWorkerStatusRequest},
		{c.WorkerStatusResponse != nil, ContentKindWorkerStatusResponse},
		{c.InvocationCancel != nil, ContentKindInvocationCancel},
		{c.WorkerTerminate != nil, ContentKindWorkerTerminate},
		{c.RpcLog != nil, ContentKindRpcLog},
	} {
		if candidate.set {
			kind = candidate.kind
			count++
		}
	}

	if count != 1 {
		return ContentKindNone, errors.Wrapf(ErrInvalidContent, "Found %d payloads", count)
	}

	return kind, nil
}

// helpers to build outbound messages

func NewStartStream(workerID string) *StreamingMessage {
	return &StreamingMessage{
		Content: Content{StartStream: &StartStream{WorkerID: workerID}},
	}
}

func NewWorkerInitResponse(requestID string, response *WorkerInitResponse) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{WorkerInitResponse: response},
	}
}

func NewFunctionLoadResponse(requestID string, response *FunctionLoadResponse) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{FunctionLoadResponse: response},
	}
}

func NewFunctionLoadResponseCollection(requestID string, response *FunctionLoadResponseCollection) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{FunctionLoadResponseCollection: response},
	}
}

func NewInvocationResponse(requestID string, response *InvocationResponse) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{InvocationResponse: response},
	}
}

func NewEnvironmentReloadResponse(requestID string, response *FunctionEnvironmentReloadResponse) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{EnvironmentReloadResponse: response},
	}
}

func NewWorkerStatusResponse(requestID string, response *WorkerStatusResponse) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{WorkerStatusResponse: response},
	}
}

func NewRpcLog(requestID string, log *RpcLog) *StreamingMessage {
	return &StreamingMessage{
		RequestID: requestID,
		Content:   Content{RpcLog: log},
	}
}

// ResponseKindOf returns the kind of response that answers a request of the given kind, or ContentKindNone
// if the request kind has no response
func ResponseKindOf(requestKind ContentKind) ContentKind {
	switch requestKind {
	case ContentKindWorkerInitRequest:
		return ContentKindWorkerInitResponse
	case ContentKindFunctionLoadRequest:
		return ContentKindFunctionLoadResponse
	case ContentKindFunctionLoadRequestCollection:
		return ContentKindFunctionLoadResponseCollection
	case ContentKindInvocationRequest:
		return ContentKindInvocationResponse
	case ContentKindEnvironmentReloadRequest:
		return ContentKindEnvironmentReloadResponse
	case ContentKindWorkerStatusRequest:
		return ContentKindWorkerStatusResponse
	}

	return ContentKindNone
}
