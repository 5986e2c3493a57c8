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

package httpbridge

import (
	"context"
	"sync"
	"time"

	"github.com/nuclio/nuclio-worker/pkg/worker/metrics"

	"github.com/eapache/queue"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/valyala/fasthttp"
)

var (

	// ErrCorrelationExpired resolves the slots of entries removed by Evict
	ErrCorrelationExpired = errors.New("HTTP correlation entry expired")

	// ErrDuplicateHTTPContext resolves the completion of a request published for an invocation that
	// already has one
	ErrDuplicateHTTPContext = errors.New("HTTP context already published for invocation")

	// ErrInvocationFinished is returned when awaiting the HTTP context of a finished invocation
	ErrInvocationFinished = errors.New("Invocation already finished")
)

// DefaultMaxFinishedInvocations bounds the number of finished invocation ids remembered
const DefaultMaxFinishedInvocations = 10000

// Signal is a single-shot slot. Resolving it more than once is a no-op
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newSignal() *Signal {
	return &Signal{
		done: make(chan struct{}),
	}
}

// Done is closed once the signal is resolved
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the signal was resolved with. Only valid after Done is closed
func (s *Signal) Err() error {
	return s.err
}

func (s *Signal) resolve(err error) bool {
	resolved := false

	s.once.Do(func() {
		s.err = err
		close(s.done)
		resolved = true
	})

	return resolved
}

func (s *Signal) isResolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type entry struct {
	httpContext *fasthttp.RequestCtx
	published   *Signal
	completed   *Signal
	awaited     bool
	createdAt   time.Time

	// held while the context is written to. Once released, the ingress owns the context again
	contextLock sync.Mutex
	released    bool
}

func newRejectedEntry(err error) *entry {
	rejectedEntry := &entry{
		published: newSignal(),
		completed: newSignal(),
		released:  true,
	}

	rejectedEntry.published.resolve(err)
	rejectedEntry.completed.resolve(err)

	return rejectedEntry
}

// use calls writer with the HTTP context unless the ingress already released it
func (e *entry) use(writer func(httpContext *fasthttp.RequestCtx)) bool {
	e.contextLock.Lock()
	defer e.contextLock.Unlock()

	if e.released {
		return false
	}

	writer(e.httpContext)
	return true
}

// release blocks until in progress writes are done, after which use is a no-op
func (e *entry) release() {
	e.contextLock.Lock()
	e.released = true
	e.contextLock.Unlock()
}

type finishedInvocation struct {
	invocationID string
	finishedAt   time.Time
}

// Bridge pairs HTTP requests arriving on the ingress with the invocations that serve them.
// Entries are created by whichever side arrives first
type Bridge struct {
	logger  logger.Logger
	metrics *metrics.Metrics
	lock    sync.Mutex
	entries map[string]*entry

	// ids of removed entries, oldest first, so that late signals for them do not recreate entries
	finished      map[string]time.Time
	finishedOrder *queue.Queue
	maxFinished   int
}

func NewBridge(parentLogger logger.Logger, workerMetrics *metrics.Metrics) *Bridge {
	return &Bridge{
		logger:        parentLogger.GetChild("httpbridge"),
		metrics:       workerMetrics,
		entries:       map[string]*entry{},
		finished:      map[string]time.Time{},
		finishedOrder: queue.New(),
		maxFinished:   DefaultMaxFinishedInvocations,
	}
}

// PublishHTTPContext makes the HTTP context of an invocation available. The returned signal resolves
// once the invocation completes
func (b *Bridge) PublishHTTPContext(invocationID string, httpContext *fasthttp.RequestCtx) *Signal {
	return b.publish(invocationID, httpContext).completed
}

// AwaitHTTPContext blocks until the HTTP context of an invocation is published
func (b *Bridge) AwaitHTTPContext(ctx context.Context, invocationID string) (*fasthttp.RequestCtx, error) {
	correlationEntry, err := b.await(ctx, invocationID)
	if err != nil {
		return nil, err
	}

	return correlationEntry.httpContext, nil
}

// CompleteInvocation releases the HTTP request waiting on the invocation. Completing twice is a no-op
func (b *Bridge) CompleteInvocation(invocationID string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.isFinished(invocationID) {
		b.logger.DebugWith("Ignoring completion of finished invocation", "invocationID", invocationID)
		return
	}

	correlationEntry := b.getOrCreateEntry(invocationID)

	if !correlationEntry.completed.resolve(nil) {
		b.logger.DebugWith("Ignoring duplicate completion", "invocationID", invocationID)
	}

	b.removeIfDone(invocationID, correlationEntry)
}

func (b *Bridge) publish(invocationID string, httpContext *fasthttp.RequestCtx) *entry {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.isFinished(invocationID) {
		b.logger.DebugWith("Rejecting HTTP context of finished invocation", "invocationID", invocationID)
		return newRejectedEntry(ErrInvocationFinished)
	}

	correlationEntry := b.getOrCreateEntry(invocationID)

	if correlationEntry.published.isResolved() {
		b.logger.DebugWith("Rejecting duplicate HTTP context", "invocationID", invocationID)
		return newRejectedEntry(ErrDuplicateHTTPContext)
	}

	// the context is set before the slot is resolved, so awaiters always see it
	correlationEntry.httpContext = httpContext
	correlationEntry.published.resolve(nil)

	b.removeIfDone(invocationID, correlationEntry)

	return correlationEntry
}

func (b *Bridge) await(ctx context.Context, invocationID string) (*entry, error) {
	b.lock.Lock()
	if b.isFinished(invocationID) {
		b.lock.Unlock()
		return nil, ErrInvocationFinished
	}

	correlationEntry := b.getOrCreateEntry(invocationID)
	b.lock.Unlock()

	select {
	case <-correlationEntry.published.Done():
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "Context done while waiting for HTTP context")
	}

	if err := correlationEntry.published.Err(); err != nil {
		return nil, err
	}

	b.lock.Lock()
	correlationEntry.awaited = true
	b.removeIfDone(invocationID, correlationEntry)
	b.lock.Unlock()

	return correlationEntry, nil
}

// Pending returns the number of resident entries
func (b *Bridge) Pending() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.entries)
}

// Evict removes entries older than olderThan, resolving their open slots with ErrCorrelationExpired.
// Finished invocation ids older than olderThan are forgotten
func (b *Bridge) Evict(olderThan time.Duration) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	evicted := 0
	now := time.Now()

	// finished ids outlive their entries by up to olderThan. Ids of entries evicted below are kept
	// until the next pass
	for b.finishedOrder.Length() > 0 {
		oldest := b.finishedOrder.Peek().(finishedInvocation)
		if now.Sub(oldest.finishedAt) < olderThan {
			break
		}

		b.forgetOldestFinished()
	}

	for invocationID, correlationEntry := range b.entries {
		if now.Sub(correlationEntry.createdAt) < olderThan {
			continue
		}

		correlationEntry.published.resolve(ErrCorrelationExpired)
		correlationEntry.completed.resolve(ErrCorrelationExpired)
		delete(b.entries, invocationID)
		b.markFinished(invocationID, now)
		evicted++

		b.logger.WarnWith("Evicted HTTP correlation entry",
			"invocationID", invocationID,
			"age", now.Sub(correlationEntry.createdAt).String())
	}

	b.metrics.SetPendingCorrelations(len(b.entries))

	return evicted
}

// RunJanitor evicts expired entries every interval until the context is done. A non-positive ttl
// disables expiry, in which case entries that never complete stay resident
func (b *Bridge) RunJanitor(ctx context.Context, ttl time.Duration, interval time.Duration) {
	if ttl <= 0 {
		b.logger.DebugWith("Correlation expiry disabled")
		return
	}

	if interval <= 0 {
		interval = ttl
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := b.Evict(ttl); evicted > 0 {
				b.logger.InfoWith("Janitor evicted correlation entries", "evicted", evicted)
			}
		}
	}
}

// must be called with the lock held
func (b *Bridge) getOrCreateEntry(invocationID string) *entry {
	correlationEntry, found := b.entries[invocationID]
	if !found {
		correlationEntry = &entry{
			published: newSignal(),
			completed: newSignal(),
			createdAt: time.Now(),
		}

		b.entries[invocationID] = correlationEntry
		b.metrics.SetPendingCorrelations(len(b.entries))
	}

	return correlationEntry
}

// must be called with the lock held
func (b *Bridge) removeIfDone(invocationID string, correlationEntry *entry) {
	if !correlationEntry.published.isResolved() ||
		!correlationEntry.completed.isResolved() ||
		!correlationEntry.awaited {
		return
	}

	// a newer entry may have replaced this one after an eviction
	if b.entries[invocationID] == correlationEntry {
		delete(b.entries, invocationID)
		b.markFinished(invocationID, time.Now())
		b.metrics.SetPendingCorrelations(len(b.entries))
	}
}

// must be called with the lock held
func (b *Bridge) isFinished(invocationID string) bool {
	_, finished := b.finished[invocationID]
	return finished
}

// must be called with the lock held
func (b *Bridge) markFinished(invocationID string, finishedAt time.Time) {
	b.finished[invocationID] = finishedAt
	b.finishedOrder.Add(finishedInvocation{invocationID: invocationID, finishedAt: finishedAt})

	for b.finishedOrder.Length() > b.maxFinished {
		b.forgetOldestFinished()
	}
}

// must be called with the lock held
func (b *Bridge) forgetOldestFinished() {
	oldest := b.finishedOrder.Remove().(finishedInvocation)

	// the id may have been marked again since
	if finishedAt, found := b.finished[oldest.invocationID]; found && finishedAt.Equal(oldest.finishedAt) {
		delete(b.finished, oldest.invocationID)
	}
}
