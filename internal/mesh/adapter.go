package mesh

import (
	"context"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/link"
	"go.uber.org/zap"
)

// Adapter pumps the transport's push streams onto the event bus and drives the
// link state machine. Inbound envelopes come out as mesh.message events in
// arrival order; presence as mesh.presence.
type Adapter struct {
	transport Transport
	bus       *bus.Bus
	machine   *link.Machine
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewAdapter creates a transport adapter.
func NewAdapter(t Transport, b *bus.Bus, m *link.Machine, logger *zap.Logger) *Adapter {
	return &Adapter{
		transport: t,
		bus:       b,
		machine:   m,
		logger:    logger,
	}
}

// Start begins pumping transport streams. A single goroutine preserves the
// transport's arrival order on the bus.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.pump(ctx)
}

// Stop stops the pump.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Adapter) pump(ctx context.Context) {
	for {
		select {
		case env, ok := <-a.transport.Incoming():
			if !ok {
				return
			}
			a.bus.Publish(bus.Event{
				Kind:      bus.KindMeshMessage,
				Timestamp: time.Now(),
				Payload:   env,
			})
		case evt, ok := <-a.transport.Presence():
			if !ok {
				return
			}
			a.bus.Publish(bus.Event{
				Kind:      bus.KindMeshPresence,
				Timestamp: time.Now(),
				Payload:   evt,
			})
		case state, ok := <-a.transport.Links():
			if !ok {
				return
			}
			a.applyLinkState(state)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) applyLinkState(state LinkState) {
	switch state {
	case LinkUp:
		// The machine only allows Online from Connecting/Reconnecting.
		if a.machine.Current() == link.Offline {
			_ = a.machine.Transition(link.Connecting)
		}
		if err := a.machine.Transition(link.Online); err != nil {
			a.logger.Warn("link transition rejected", zap.Error(err))
		} else {
			a.logger.Info("mesh link up")
		}
	case LinkDown:
		if err := a.machine.Transition(link.Reconnecting); err != nil {
			_ = a.machine.Transition(link.Offline)
		}
		a.logger.Info("mesh link down")
	}
}
