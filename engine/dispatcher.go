package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// inboxSize bounds how many queued events a single symbol's worker may have
// buffered before the dispatcher blocks the caller — a slow symbol should
// back-pressure its producer rather than grow without bound.
const inboxSize = 256

// Dispatcher serializes order events per symbol onto a dedicated worker
// goroutine, per §5: every event for a given symbol is processed by exactly
// one goroutine in arrival order, while distinct symbols proceed fully in
// parallel. This is the Go rendering of the source's keyed-partition queue
// consumer, generalized from the teacher's single shared worker loop
// (core/engine.go) to one lightweight channel-backed worker per key.
type Dispatcher struct {
	engine *Engine

	mu      sync.Mutex
	workers map[string]chan uuid.UUID
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher builds a Dispatcher bound to engine. Call Stop to shut down
// every worker on exit.
func NewDispatcher(engine *Engine) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		engine:  engine,
		workers: make(map[string]chan uuid.UUID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit enqueues orderID for processing on symbol's worker, starting the
// worker lazily on first use.
func (d *Dispatcher) Submit(symbol string, orderID uuid.UUID) {
	d.mu.Lock()
	inbox, ok := d.workers[symbol]
	if !ok {
		inbox = make(chan uuid.UUID, inboxSize)
		d.workers[symbol] = inbox
		d.wg.Add(1)
		go d.run(symbol, inbox)
	}
	d.mu.Unlock()

	inbox <- orderID
}

func (d *Dispatcher) run(symbol string, inbox chan uuid.UUID) {
	defer d.wg.Done()
	for {
		select {
		case orderID, ok := <-inbox:
			if !ok {
				return
			}
			if d.engine.halts != nil {
				if halted, reason := d.engine.halts.IsHalted(symbol); halted {
					log.Warn().Str("symbol", symbol).Str("reason", reason).Str("order_id", orderID.String()).
						Msg("dropping event: symbol halted")
					continue
				}
			}
			if err := d.engine.ProcessOrder(d.ctx, orderID); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Str("order_id", orderID.String()).Msg("process order failed")
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Stop cancels the dispatcher's context and waits for every worker to return.
// An event already being processed runs on that same context, so its store
// calls see the cancellation; events still queued may be discarded.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}
