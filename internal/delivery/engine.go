// Package delivery owns the outbound side of the message lifecycle: the
// persisted retry queue, the per-message delivery status, and the fan-out of
// group messages to individual recipients over the mesh transport.
package delivery

import (
	"context"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/link"
	"github.com/meshtalk/meshtalk/internal/mesh"
	"github.com/meshtalk/meshtalk/internal/metrics"
	"github.com/meshtalk/meshtalk/internal/store"
	"go.uber.org/zap"
)

// PeerSender is the slice of the transport the engine needs.
type PeerSender interface {
	SendToPeer(ctx context.Context, peerID string, env mesh.Envelope) error
}

// Config tunes the retry policy.
type Config struct {
	MaxAttempts    int
	Tick           time.Duration
	AttemptTimeout time.Duration
}

// StatusChange is the payload for message.status_changed events.
type StatusChange struct {
	MessageID string
	ChatID    string
	Status    string
	Attempts  int
	Permanent bool // true once the message will never be retried automatically
}

// Engine drains the outbox, attempting delivery to every recipient of each
// queued message. A message becomes Delivered when at least one recipient
// accepts it; per-recipient failures in group chats are logged and counted but
// do not flip the shared status back.
type Engine struct {
	db      *store.DB
	sender  PeerSender
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config
	localID string
	cancel  context.CancelFunc
}

// NewEngine creates a delivery engine.
func NewEngine(db *store.DB, sender PeerSender, b *bus.Bus, m *metrics.Metrics, cfg Config, localID string, logger *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Engine{
		db:      db,
		sender:  sender,
		bus:     b,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		localID: localID,
	}
}

// Start begins the queue-processing loop. The queue is drained on a periodic
// tick, whenever the link comes back online, and whenever a fresh send is
// enqueued. All queue mutation happens on this one goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	linkCh, unsubLink := e.bus.Subscribe("link.", 16)
	outboxCh, unsubOutbox := e.bus.Subscribe("outbox.", 64)

	go func() {
		defer unsubLink()
		defer unsubOutbox()

		ticker := time.NewTicker(e.cfg.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.ProcessQueue(ctx)
			case evt := <-linkCh:
				if sc, ok := evt.Payload.(link.StatusChange); ok && sc.To == link.Online {
					e.logger.Info("link online, draining outbox")
					e.ProcessQueue(ctx)
				}
			case <-outboxCh:
				e.ProcessQueue(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// ProcessQueue runs one delivery pass over every queued entry.
func (e *Engine) ProcessQueue(ctx context.Context) {
	pending, err := e.db.PendingOutbox()
	if err != nil {
		e.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		e.processEntry(ctx, entry)
	}

	if e.metrics != nil {
		if depth, err := e.db.OutboxDepth(); err == nil {
			e.metrics.OutboxDepth.Set(float64(depth))
		}
	}
}

func (e *Engine) processEntry(ctx context.Context, entry store.OutboxEntry) {
	msg, err := e.db.GetMessage(entry.MessageID)
	if err != nil {
		e.logger.Error("failed to load queued message", zap.Error(err), zap.String("msg_id", entry.MessageID))
		return
	}
	if msg == nil {
		// Message (and its chat) deleted out from under the queue.
		_ = e.db.RemoveOutbox(entry.MessageID)
		return
	}

	recipients, err := e.recipients(entry.ChatID)
	if err != nil {
		e.logger.Error("failed to resolve recipients", zap.Error(err), zap.String("chat_id", entry.ChatID))
		return
	}
	if len(recipients) == 0 {
		// Nobody left to deliver to; surface as a permanent failure.
		e.logger.Warn("no recipients for queued message", zap.String("msg_id", msg.ID), zap.String("chat_id", entry.ChatID))
		e.fail(msg, entry.Attempts, true)
		return
	}

	env := envelope(msg)
	delivered := false
	for _, peerID := range recipients {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		err := e.sender.SendToPeer(attemptCtx, peerID, env)
		cancel()
		if err != nil {
			e.countAttempt("error")
			e.logger.Warn("send attempt failed",
				zap.Error(err),
				zap.String("msg_id", msg.ID),
				zap.String("peer_id", peerID),
				zap.Int("attempts", entry.Attempts))
			continue
		}
		e.countAttempt("ok")
		delivered = true
	}

	if delivered {
		e.deliver(msg)
		return
	}
	e.fail(msg, entry.Attempts, entry.Attempts+1 >= e.cfg.MaxAttempts)
}

func (e *Engine) deliver(msg *store.Message) {
	if err := e.db.SetMessageStatus(msg.ID, store.StatusDelivered); err != nil {
		e.logger.Error("failed to mark delivered", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}
	if err := e.db.RemoveOutbox(msg.ID); err != nil {
		e.logger.Error("failed to dequeue", zap.Error(err), zap.String("msg_id", msg.ID))
	}
	if e.metrics != nil {
		e.metrics.MessagesDelivered.Inc()
	}
	e.logger.Info("message delivered", zap.String("msg_id", msg.ID), zap.String("chat_id", msg.ChatID))
	e.publishStatus(msg, store.StatusDelivered, 0, false)
}

func (e *Engine) fail(msg *store.Message, priorAttempts int, permanent bool) {
	attempts := priorAttempts + 1
	if err := e.db.SetMessageStatus(msg.ID, store.StatusFailed); err != nil {
		e.logger.Error("failed to mark failed", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}
	if permanent {
		if err := e.db.RemoveOutbox(msg.ID); err != nil {
			e.logger.Error("failed to dequeue", zap.Error(err), zap.String("msg_id", msg.ID))
		}
		if e.metrics != nil {
			e.metrics.MessagesFailed.Inc()
		}
		e.logger.Warn("message failed permanently",
			zap.String("msg_id", msg.ID),
			zap.Int("attempts", attempts))
	} else {
		if err := e.db.BumpOutboxAttempt(msg.ID, time.Now().UnixMilli()); err != nil {
			e.logger.Error("failed to bump attempt", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	}
	e.publishStatus(msg, store.StatusFailed, attempts, permanent)
}

func (e *Engine) publishStatus(msg *store.Message, status string, attempts int, permanent bool) {
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageStatusChanged,
		Timestamp: time.Now(),
		Payload: StatusChange{
			MessageID: msg.ID,
			ChatID:    msg.ChatID,
			Status:    status,
			Attempts:  attempts,
			Permanent: permanent,
		},
	})
}

// recipients returns the chat's participants minus the local peer.
func (e *Engine) recipients(chatID string) ([]string, error) {
	ids, err := e.db.ParticipantIDs(chatID)
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != e.localID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (e *Engine) countAttempt(result string) {
	if e.metrics != nil {
		e.metrics.SendAttempts.WithLabelValues(result).Inc()
	}
}

func envelope(msg *store.Message) mesh.Envelope {
	env := mesh.Envelope{
		ID:       msg.ID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Kind:     msg.Kind,
	}
	for _, a := range msg.Attachments {
		env.Attachments = append(env.Attachments, mesh.Attachment{
			Data:             a.Data,
			OriginalFileName: a.OriginalName,
		})
	}
	return env
}
