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

package outputchannel

import (
	"context"
	"sync"

	"github.com/nuclio/nuclio-worker/pkg/worker/wire"

	"github.com/eapache/queue"
	"github.com/nuclio/errors"
)

// ErrClosed is returned from Read once the channel was closed and fully drained
var ErrClosed = errors.New("Output channel closed")

// Writer is the producer side of the output channel
type Writer interface {
	Write(message *wire.StreamingMessage)
}

// OutputChannel is an unbounded multi-producer, single-consumer FIFO of outbound messages
type OutputChannel struct {
	lock     sync.Mutex
	messages *queue.Queue
	closed   bool

	// holds at most one pending wakeup for the reader
	wakeup chan struct{}
}

func NewOutputChannel() *OutputChannel {
	return &OutputChannel{
		messages: queue.New(),
		wakeup:   make(chan struct{}, 1),
	}
}

// Write enqueues a message. It never blocks. Writes after Close are dropped
func (oc *OutputChannel) Write(message *wire.StreamingMessage) {
	if message == nil {
		return
	}

	oc.lock.Lock()
	if oc.closed {
		oc.lock.Unlock()
		return
	}

	oc.messages.Add(message)
	oc.lock.Unlock()

	oc.notify()
}

// Read returns the oldest message, blocking until one is available, the channel is closed and drained
// or the context is done
func (oc *OutputChannel) Read(ctx context.Context) (*wire.StreamingMessage, error) {
	for {
		oc.lock.Lock()
		if oc.messages.Length() > 0 {
			message := oc.messages.Remove().(*wire.StreamingMessage)
			oc.lock.Unlock()
			return message, nil
		}

		closed := oc.closed
		oc.lock.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-oc.wakeup:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops accepting writes. Messages already queued are still returned by Read
func (oc *OutputChannel) Close() {
	oc.lock.Lock()
	oc.closed = true
	oc.lock.Unlock()

	oc.notify()
}

// Len returns the number of queued messages
func (oc *OutputChannel) Len() int {
	oc.lock.Lock()
	defer oc.lock.Unlock()

	return oc.messages.Length()
}

func (oc *OutputChannel) notify() {
	select {
	case oc.wakeup <- struct{}{}:
	default:
	}
}
