package engine

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/perpcore/matchengine/ops"
)

// SymbolHalts tracks which symbols are halted after an INVARIANT_VIOLATION,
// per §2.3/§7. Grounded on the teacher's CircuitBreaker trip/reset state
// machine (risk/circuit_breaker.go), generalized from a single global trip to
// one entry per symbol and requiring an explicit operator Clear instead of a
// cooldown timer — an invariant violation is not expected to self-heal.
type SymbolHalts struct {
	mu     sync.RWMutex
	halted map[string]string // symbol -> reason
	alert  ops.AlertSink
}

// NewSymbolHalts builds a halts registry. alert may be nil (no paging).
func NewSymbolHalts(alert ops.AlertSink) *SymbolHalts {
	return &SymbolHalts{halted: make(map[string]string), alert: alert}
}

// Trip halts symbol with reason and pages the alert sink.
func (h *SymbolHalts) Trip(symbol, reason string) {
	h.mu.Lock()
	h.halted[symbol] = reason
	h.mu.Unlock()

	log.Error().Str("symbol", symbol).Str("reason", reason).Msg("SYMBOL HALTED")
	if h.alert != nil {
		h.alert.NotifyHalt(symbol, reason)
	}
}

// IsHalted reports whether symbol is currently halted, and why.
func (h *SymbolHalts) IsHalted(symbol string) (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reason, halted := h.halted[symbol]
	return halted, reason
}

// Clear lifts a halt; only an operator action should call this.
func (h *SymbolHalts) Clear(symbol string) {
	h.mu.Lock()
	_, was := h.halted[symbol]
	delete(h.halted, symbol)
	h.mu.Unlock()

	if was {
		log.Info().Str("symbol", symbol).Msg("symbol halt cleared by operator")
		if h.alert != nil {
			h.alert.NotifyResume(symbol)
		}
	}
}
