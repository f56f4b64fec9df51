// Package router consumes the main storage subject and republishes each
// event onto exactly one size tier. Multiple instances share one durable
// consumer; the bus load-balances between them.
//
// The router fails hard: startup provisioning must fully succeed, and three
// consecutive processing errors exit the process. A degraded router that
// silently drops events is worse than a dead one a supervisor restarts.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/tier"
)

const (
	// ConsumerName is the shared durable consumer on the main stream.
	ConsumerName = "tiered-storage-router"

	batchSize            = 1
	fetchTimeout         = 30 * time.Second
	maxConsecutiveErrors = 3

	routerAckWait    = 60 * time.Second
	routerMaxDeliver = 5
	workerAckWait    = 60 * time.Second
)

// legacyConsumers are consumer names left behind by earlier router
// generations. A crashed predecessor's consumer can pin unacked messages
// past redelivery, so startup removes them unconditionally.
var legacyConsumers = []string{
	"storage-event-router",
	"event-router",
	"p8fs-router-v1",
}

// legacyConsumerPrefix matches per-instance consumers from the era before
// the shared-consumer design.
const legacyConsumerPrefix = "router-"

// Config holds router settings.
type Config struct {
	RouterID string
}

// Router routes storage events to tier subjects.
type Router struct {
	nats   *natsclient.Client
	logger *zap.Logger
	cfg    Config

	sub          *nats.Subscription
	messageCount atomic.Int64
}

// New builds an unstarted router.
func New(nc *natsclient.Client, cfg Config, logger *zap.Logger) *Router {
	return &Router{nats: nc, logger: logger, cfg: cfg}
}

// Setup runs the strict startup sequence. Any failure is fatal to the
// caller; a router must never run against half-provisioned topology.
func (r *Router) Setup(ctx context.Context) error {
	if err := r.nats.VerifyJetStream(); err != nil {
		return fmt.Errorf("startup step 1: %w", err)
	}

	streams := []natsclient.StreamSpec{
		{Name: natsclient.StreamStorageEvents, Subjects: []string{natsclient.SubjectStorageEventsMain}},
	}
	for _, t := range tier.All() {
		streams = append(streams, natsclient.StreamSpec{Name: t.Stream, Subjects: []string{t.Subject}})
	}
	for _, spec := range streams {
		if err := r.nats.EnsureStream(spec); err != nil {
			return fmt.Errorf("startup step 2: %w", err)
		}
	}

	for _, t := range tier.All() {
		err := r.nats.EnsureConsumer(natsclient.ConsumerSpec{
			Stream:        t.Stream,
			Name:          t.Consumer,
			FilterSubject: t.Subject,
			AckWait:       workerAckWait,
			MaxDeliver:    t.MaxDeliver,
			MaxAckPending: t.MaxAckPending,
		})
		if err != nil {
			return fmt.Errorf("startup step 3: %w", err)
		}
	}

	if err := r.cleanupStaleConsumers(); err != nil {
		return fmt.Errorf("startup step 4: %w", err)
	}

	err := r.nats.EnsureConsumer(natsclient.ConsumerSpec{
		Stream:        natsclient.StreamStorageEvents,
		Name:          ConsumerName,
		FilterSubject: natsclient.SubjectStorageEventsMain,
		AckWait:       routerAckWait,
		MaxDeliver:    routerMaxDeliver,
		MaxAckPending: 100,
	})
	if err != nil {
		return fmt.Errorf("startup step 5: %w", err)
	}

	sub, err := r.nats.PullSubscribe(natsclient.SubjectStorageEventsMain, ConsumerName, natsclient.StreamStorageEvents)
	if err != nil {
		return fmt.Errorf("startup step 6: %w", err)
	}
	r.sub = sub

	r.logger.Info("router ready",
		zap.String("router_id", r.cfg.RouterID),
		zap.String("consumer", ConsumerName))
	return nil
}

// cleanupStaleConsumers deletes enumerated legacy consumer names plus any
// consumer matching the pre-shared-design prefix. NotFound is expected.
func (r *Router) cleanupStaleConsumers() error {
	for _, name := range legacyConsumers {
		if err := r.nats.DeleteConsumer(natsclient.StreamStorageEvents, name); err != nil {
			return err
		}
	}

	names, err := r.nats.ListConsumers(natsclient.StreamStorageEvents)
	if err != nil {
		return err
	}
	for _, name := range names {
		if isLegacyInstanceConsumer(name) {
			if err := r.nats.DeleteConsumer(natsclient.StreamStorageEvents, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func isLegacyInstanceConsumer(name string) bool {
	return len(name) > len(legacyConsumerPrefix) && name[:len(legacyConsumerPrefix)] == legacyConsumerPrefix
}

// Run processes messages until ctx is cancelled or the error budget is
// exhausted. The returned error is nil only on clean shutdown.
func (r *Router) Run(ctx context.Context) error {
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router draining", zap.Int64("messages_routed", r.messageCount.Load()))
			return nil
		default:
		}

		msgs, err := r.nats.Fetch(ctx, r.sub, batchSize, fetchTimeout)
		if err != nil {
			consecutiveErrors++
			r.logger.Error("fetch failed",
				zap.Int("consecutive_errors", consecutiveErrors), zap.Error(err))
			if consecutiveErrors >= maxConsecutiveErrors {
				return r.bailOut(ctx, consecutiveErrors)
			}
			continue
		}
		if len(msgs) == 0 {
			// Idle timeout. Not an error; the counter resets.
			consecutiveErrors = 0
			continue
		}

		for _, msg := range msgs {
			if err := r.processMessage(msg); err != nil {
				consecutiveErrors++
				r.logger.Error("routing failed",
					zap.Int("consecutive_errors", consecutiveErrors), zap.Error(err))
				if consecutiveErrors >= maxConsecutiveErrors {
					return r.bailOut(ctx, consecutiveErrors)
				}
				continue
			}
			consecutiveErrors = 0
		}
	}
}

// bailOut backs off proportionally to the error count, then reports the
// failure so main can exit non-zero.
func (r *Router) bailOut(ctx context.Context, errCount int) error {
	wait := time.Duration(2*errCount) * time.Second
	r.logger.Error("error budget exhausted, exiting",
		zap.Int("consecutive_errors", errCount),
		zap.Duration("backoff", wait))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	return fmt.Errorf("router exceeded %d consecutive errors", errCount)
}

// processMessage routes one event: parse, pick tier, inject routing
// metadata, publish, then ack. Malformed payloads are acked away; publish
// failures leave the message unacked for redelivery.
func (r *Router) processMessage(msg *nats.Msg) error {
	routed, err := routeEvent(msg.Data, msg.Subject, r.cfg.RouterID, &r.messageCount)
	if err != nil {
		r.logger.Warn("malformed event dropped", zap.Error(err))
		return msg.Ack()
	}

	if err := r.nats.Publish(routed.TargetSubject, routed.Payload); err != nil {
		// No ack: the bus will redeliver and another attempt will route it.
		return fmt.Errorf("failed to publish to %s: %w", routed.TargetSubject, err)
	}

	if err := msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack routed message: %w", err)
	}

	r.logger.Info("event routed",
		zap.String("target", routed.TargetSubject),
		zap.Int64("file_size_bytes", routed.FileSizeBytes),
		zap.String("router_id", r.cfg.RouterID))
	return nil
}

// routedEvent is the outcome of tiering one message.
type routedEvent struct {
	TargetSubject string
	FileSizeBytes int64
	Payload       []byte
}

// routeEvent decides the tier for a raw payload and injects the routing
// object. The only error it returns is a decode failure; everything else is
// deterministic.
func routeEvent(data []byte, originalSubject, routerID string, counter *atomic.Int64) (routedEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return routedEvent{}, fmt.Errorf("malformed payload: %w", err)
	}

	size := model.ExtractFileSizeFromRaw(raw)
	target, flooredSize := tier.ForSize(size)

	raw["routing"] = model.Routing{
		OriginalSubject:  originalSubject,
		TargetSubject:    target.Subject,
		FileSizeBytes:    flooredSize,
		RouterID:         routerID,
		MessageCount:     counter.Add(1),
		RoutingTimestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return routedEvent{}, fmt.Errorf("malformed payload: %w", err)
	}

	return routedEvent{
		TargetSubject: target.Subject,
		FileSizeBytes: flooredSize,
		Payload:       payload,
	}, nil
}
