package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeCompleter records batches and answers from a canned function.
type fakeCompleter struct {
	mu      sync.Mutex
	batches [][]BatchItem
	fn      func(batch []BatchItem) (map[string]BatchResult, error)
}

func (f *fakeCompleter) Complete(_ context.Context, items []BatchItem, _ string) (map[string]BatchResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(items)
	}
	out := make(map[string]BatchResult, len(items))
	for _, item := range items {
		out[item.ID] = BatchResult{ID: item.ID, Status: StatusOK, CorrectAnswers: []int{0}}
	}
	return out, nil
}

func makeItems(n int) []BatchItem {
	items := make([]BatchItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, BatchItem{
			ID:           fmt.Sprintf("q-%d", i),
			QuestionText: fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b"},
		})
	}
	return items
}

func TestOrchestratorTotalCoverage(t *testing.T) {
	fake := &fakeCompleter{}
	o := NewOrchestrator(fake)

	items := makeItems(23)
	results := o.Run(context.Background(), items, 5, 4, "prompt")

	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for _, item := range items {
		r, ok := results[item.ID]
		if !ok {
			t.Fatalf("missing result for %s", item.ID)
		}
		if r.Status != StatusOK {
			t.Errorf("item %s status = %q", item.ID, r.Status)
		}
	}
}

func TestOrchestratorEachItemClaimedOnce(t *testing.T) {
	fake := &fakeCompleter{}
	o := NewOrchestrator(fake)

	items := makeItems(17)
	o.Run(context.Background(), items, 4, 8, "prompt")

	seen := make(map[string]int)
	total := 0
	for _, batch := range fake.batches {
		if len(batch) > 4 {
			t.Errorf("batch larger than batch size: %d", len(batch))
		}
		for _, item := range batch {
			seen[item.ID]++
			total++
		}
	}
	if total != len(items) {
		t.Errorf("dispatched %d items, want %d", total, len(items))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s dispatched %d times", id, n)
		}
	}
	// 17 items at batch size 4 is 5 batches
	if len(fake.batches) != 5 {
		t.Errorf("got %d batches, want 5", len(fake.batches))
	}
}

func TestOrchestratorFailedBatchIsolated(t *testing.T) {
	fake := &fakeCompleter{
		fn: func(batch []BatchItem) (map[string]BatchResult, error) {
			if batch[0].ID == "q-0" {
				return nil, errors.New("upstream exploded")
			}
			out := make(map[string]BatchResult, len(batch))
			for _, item := range batch {
				out[item.ID] = BatchResult{ID: item.ID, Status: StatusOK}
			}
			return out, nil
		},
	}
	o := NewOrchestrator(fake)

	items := makeItems(6)
	results := o.Run(context.Background(), items, 3, 2, "prompt")

	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	for i := 0; i < 3; i++ {
		r := results[fmt.Sprintf("q-%d", i)]
		if r.Status != StatusError || r.Error != "upstream exploded" {
			t.Errorf("item q-%d should carry the batch error, got %+v", i, r)
		}
	}
	for i := 3; i < 6; i++ {
		if results[fmt.Sprintf("q-%d", i)].Status != StatusOK {
			t.Errorf("item q-%d should be untouched by the failing batch", i)
		}
	}
}

func TestOrchestratorPanicIsolated(t *testing.T) {
	fake := &fakeCompleter{
		fn: func(batch []BatchItem) (map[string]BatchResult, error) {
			if batch[0].ID == "q-0" {
				panic("boom")
			}
			out := make(map[string]BatchResult, len(batch))
			for _, item := range batch {
				out[item.ID] = BatchResult{ID: item.ID, Status: StatusOK}
			}
			return out, nil
		},
	}
	o := NewOrchestrator(fake)

	results := o.Run(context.Background(), makeItems(4), 2, 2, "prompt")

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if r := results["q-0"]; r.Status != StatusError {
		t.Errorf("panicked batch must yield error results, got %+v", r)
	}
	if r := results["q-3"]; r.Status != StatusOK {
		t.Errorf("sibling batch must survive a panic, got %+v", r)
	}
}

func TestOrchestratorMissingIDFilled(t *testing.T) {
	fake := &fakeCompleter{
		fn: func(batch []BatchItem) (map[string]BatchResult, error) {
			// drop the last item of every batch
			out := make(map[string]BatchResult, len(batch))
			for _, item := range batch[:len(batch)-1] {
				out[item.ID] = BatchResult{ID: item.ID, Status: StatusOK}
			}
			return out, nil
		},
	}
	o := NewOrchestrator(fake)

	results := o.Run(context.Background(), makeItems(4), 4, 1, "prompt")

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	r := results["q-3"]
	if r.Status != StatusError || r.Error == "" {
		t.Errorf("dropped id must come back as an error result, got %+v", r)
	}
}

func TestOrchestratorEmptyInput(t *testing.T) {
	o := NewOrchestrator(&fakeCompleter{})
	results := o.Run(context.Background(), nil, 10, 4, "prompt")
	if len(results) != 0 {
		t.Errorf("expected empty result map, got %v", results)
	}
}
