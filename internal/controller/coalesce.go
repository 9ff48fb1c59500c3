package controller

import (
	"sync"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
)

// writeCoalescer enforces at most one in-flight write per ElementRef: a
// second event for the same element arriving while a write is running
// replaces any already-queued successor rather than stacking, so the
// later value always wins once the in-flight write finishes.
//
// golang.org/x/sync/singleflight does not fit here: singleflight shares
// one in-flight *result* among identical concurrent callers, it does not
// let a second, different call preempt a queued one.
type writeCoalescer struct {
	mu       sync.Mutex
	inFlight map[mapping.ElementRef]bool
	pending  map[mapping.ElementRef]aasclient.ElementChanged
}

func newWriteCoalescer() *writeCoalescer {
	return &writeCoalescer{
		inFlight: make(map[mapping.ElementRef]bool),
		pending:  make(map[mapping.ElementRef]aasclient.ElementChanged),
	}
}

// submit runs process(ev) for el, or if a write for el is already
// running, stashes ev as the next value to process once the current
// write completes, overwriting any previously stashed value.
func (w *writeCoalescer) submit(el mapping.ElementRef, ev aasclient.ElementChanged, process func(aasclient.ElementChanged)) {
	w.mu.Lock()
	if w.inFlight[el] {
		w.pending[el] = ev
		w.mu.Unlock()
		return
	}
	w.inFlight[el] = true
	w.mu.Unlock()

	go w.drain(el, ev, process)
}

func (w *writeCoalescer) drain(el mapping.ElementRef, ev aasclient.ElementChanged, process func(aasclient.ElementChanged)) {
	for {
		process(ev)

		w.mu.Lock()
		next, ok := w.pending[el]
		if ok {
			delete(w.pending, el)
			w.mu.Unlock()
			ev = next
			continue
		}
		w.inFlight[el] = false
		w.mu.Unlock()
		return
	}
}
