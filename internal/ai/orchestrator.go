package ai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sami/medbank/internal/logger"
)

// Completer issues one completion call per batch. Satisfied by *Client.
type Completer interface {
	Complete(ctx context.Context, items []BatchItem, systemPrompt string) (map[string]BatchResult, error)
}

// Orchestrator partitions correction items into batches and runs them through
// a bounded worker pool.
type Orchestrator struct {
	completer Completer
}

// NewOrchestrator creates an orchestrator over the given completer.
func NewOrchestrator(completer Completer) *Orchestrator {
	return &Orchestrator{completer: completer}
}

// Run partitions items into fixed-size batches in input order and processes
// them with min(concurrency, batchCount) workers claiming batches off a
// shared atomic counter. It returns only once every item has been attempted
// exactly once: the result map key set always equals the input id set, no
// matter how many batches failed.
//
// There is no cancellation primitive for in-flight batches; an abandoned
// job's calls are bounded by the adapter's per-attempt timeout, after which
// the workers drain and exit on their own.
func (o *Orchestrator) Run(ctx context.Context, items []BatchItem, batchSize, concurrency int, systemPrompt string) map[string]BatchResult {
	results := make(map[string]BatchResult, len(items))
	if len(items) == 0 {
		return results
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	batches := partition(items, batchSize)
	if concurrency > len(batches) {
		concurrency = len(batches)
	}

	start := time.Now()
	logger.With(logger.Fields{
		logger.FieldCount: len(items),
	}).Info(ctx, "Starting AI correction: batches=%d, workers=%d", len(batches), concurrency)

	// Each worker writes only the slots of the batches it claimed, so the
	// shared slice needs no lock.
	batchResults := make([]map[string]BatchResult, len(batches))
	var next int64

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(atomic.AddInt64(&next, 1)) - 1
				if idx >= len(batches) {
					return
				}
				batchResults[idx] = o.processBatch(ctx, idx, batches[idx], systemPrompt)
			}
		}()
	}
	wg.Wait()

	failed := 0
	for _, m := range batchResults {
		for id, r := range m {
			if r.Status == StatusError {
				failed++
			}
			results[id] = r
		}
	}
	// Belt and braces: the adapter guarantees total coverage per batch, but a
	// missing id must never leak out of the orchestrator either.
	for _, item := range items {
		if _, ok := results[item.ID]; !ok {
			results[item.ID] = BatchResult{ID: item.ID, Status: StatusError, Error: "no response for this item"}
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(items),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "AI correction finished: errors=%d", failed)

	return results
}

// processBatch converts any adapter failure, including a panic, into error
// results for every item in the batch so one bad batch never takes down its
// siblings.
func (o *Orchestrator) processBatch(ctx context.Context, idx int, batch []BatchItem, systemPrompt string) (out map[string]BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.With(logger.Fields{logger.FieldBatch: idx}).Error(ctx, "Batch panicked: %v", r)
			out = errorBatch(batch, fmt.Sprintf("batch panicked: %v", r))
		}
	}()

	results, err := o.completer.Complete(ctx, batch, systemPrompt)
	if err != nil {
		logger.With(logger.Fields{logger.FieldBatch: idx}).WithField(logger.FieldCount, len(batch)).
			Error(ctx, "Batch failed: %v", err)
		return errorBatch(batch, err.Error())
	}
	return results
}

func errorBatch(batch []BatchItem, reason string) map[string]BatchResult {
	out := make(map[string]BatchResult, len(batch))
	for _, item := range batch {
		out[item.ID] = BatchResult{ID: item.ID, Status: StatusError, Error: reason}
	}
	return out
}

func partition(items []BatchItem, size int) [][]BatchItem {
	var batches [][]BatchItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
