// Package inbound turns raw received-message events from the transport into
// persisted messages attached to the right chat. Reconciliation is idempotent:
// the remote-assigned message id is the deduplication key.
package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/mesh"
	"github.com/meshtalk/meshtalk/internal/metrics"
	"github.com/meshtalk/meshtalk/internal/store"
	"go.uber.org/zap"
)

// Drop reasons for the inbound counter.
const (
	dropUnknownSender = "unknown_sender"
	dropRateLimited   = "rate_limited"
	dropOversize      = "oversize"
	dropBadEnvelope   = "bad_envelope"
	dropDuplicate     = "duplicate"
)

// ActiveChats reports which chat the user is currently looking at, so fresh
// messages for it do not count as unread.
type ActiveChats interface {
	ActiveChat() string
}

// Config bounds what the reconciler will accept.
type Config struct {
	MaxMessageLength int
	MaxImageSize     int64
	Rate             float64
	Burst            int
}

// Reconciler consumes mesh.message events and persists them.
type Reconciler struct {
	db      *store.DB
	bus     *bus.Bus
	active  ActiveChats
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config
	localID string
	limiter *senderLimiter
	cancel  context.CancelFunc
}

// NewReconciler creates an inbound reconciler.
func NewReconciler(db *store.DB, b *bus.Bus, active ActiveChats, m *metrics.Metrics, cfg Config, localID string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		bus:     b,
		active:  active,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		localID: localID,
		limiter: newSenderLimiter(cfg.Rate, cfg.Burst),
	}
}

// Start subscribes to inbound mesh events. A single goroutine preserves
// per-sender arrival order.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("mesh.message", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				env, ok := evt.Payload.(mesh.Envelope)
				if !ok {
					continue
				}
				if err := r.Ingest(env); err != nil {
					r.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", env.ID))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Ingest reconciles a single envelope into the store. Dropped envelopes are
// not errors: the mesh redelivers aggressively and the log carries the detail.
func (r *Reconciler) Ingest(env mesh.Envelope) error {
	if env.ID == "" || env.SenderID == "" {
		r.drop(dropBadEnvelope)
		r.logger.Warn("envelope missing id or sender", zap.String("msg_id", env.ID))
		return nil
	}
	if env.SenderID == r.localID {
		// Our own traffic echoed back by a relay.
		return nil
	}
	if !r.limiter.allow(env.SenderID, time.Now()) {
		r.drop(dropRateLimited)
		r.logger.Warn("sender rate limited", zap.String("sender_id", env.SenderID))
		return nil
	}
	if r.cfg.MaxMessageLength > 0 && len(env.Content) > r.cfg.MaxMessageLength {
		r.drop(dropOversize)
		r.logger.Warn("oversize message dropped",
			zap.String("msg_id", env.ID),
			zap.String("sender_id", env.SenderID),
			zap.Int("length", len(env.Content)))
		return nil
	}

	contact, err := r.db.GetContact(env.SenderID)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if contact == nil {
		r.drop(dropUnknownSender)
		r.logger.Warn("message from unknown sender dropped",
			zap.String("msg_id", env.ID),
			zap.String("sender_id", env.SenderID))
		return nil
	}

	chat, err := r.resolveDirectChat(contact)
	if err != nil {
		return err
	}

	msg := &store.Message{
		ID:        env.ID,
		ChatID:    chat.ID,
		SenderID:  env.SenderID,
		Content:   env.Content,
		Kind:      messageKind(env.Kind),
		Status:    store.StatusDelivered,
		ViaMesh:   env.Hops > 0,
		Hops:      env.Hops,
		Timestamp: time.Now().UnixMilli(),
	}
	msg.Attachments = r.decodeAttachments(env)

	countUnread := chat.ID != r.active.ActiveChat()
	inserted, err := r.db.AppendMessage(msg, countUnread)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		r.drop(dropDuplicate)
		r.logger.Debug("duplicate message ignored", zap.String("msg_id", env.ID))
		return nil
	}

	now := time.Now()
	r.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Timestamp: now, Payload: *msg})
	r.bus.Publish(bus.Event{Kind: bus.KindChatUpdated, Timestamp: now, Payload: chat.ID})
	return nil
}

// resolveDirectChat finds or creates the direct chat for a contact.
func (r *Reconciler) resolveDirectChat(contact *store.Contact) (*store.Chat, error) {
	chat, err := r.db.GetDirectChatByContact(contact.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup direct chat: %w", err)
	}
	if chat != nil {
		return chat, nil
	}
	chat = &store.Chat{ID: uuid.NewString(), Kind: store.ChatDirect}
	if err := r.db.InsertChat(chat, []string{contact.ID}); err != nil {
		return nil, fmt.Errorf("create direct chat: %w", err)
	}
	r.logger.Info("direct chat created for inbound message",
		zap.String("chat_id", chat.ID),
		zap.String("contact_id", contact.ID))
	return chat, nil
}

// decodeAttachments converts envelope attachments, skipping any single bad one
// so a corrupt image never loses the message text.
func (r *Reconciler) decodeAttachments(env mesh.Envelope) []store.Attachment {
	var out []store.Attachment
	for i, a := range env.Attachments {
		if len(a.Data) == 0 {
			r.logger.Warn("empty attachment skipped", zap.String("msg_id", env.ID), zap.Int("index", i))
			continue
		}
		if r.cfg.MaxImageSize > 0 && int64(len(a.Data)) > r.cfg.MaxImageSize {
			r.logger.Warn("oversize attachment skipped",
				zap.String("msg_id", env.ID),
				zap.Int("index", i),
				zap.Int("size", len(a.Data)))
			continue
		}
		out = append(out, store.Attachment{
			ID:           uuid.NewString(),
			OriginalName: a.OriginalFileName,
			OriginalSize: int64(len(a.Data)),
			Data:         a.Data,
			IsDownloaded: true,
		})
	}
	return out
}

func (r *Reconciler) drop(reason string) {
	if r.metrics != nil {
		r.metrics.InboundDropped.WithLabelValues(reason).Inc()
	}
}

func messageKind(wire string) string {
	switch wire {
	case mesh.EnvelopeImage:
		return store.KindImage
	case mesh.EnvelopeSystem:
		return store.KindSystem
	default:
		return store.KindText
	}
}
