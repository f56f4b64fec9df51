package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream and subject names for the storage event pipeline.
const (
	// StreamStorageEvents captures every normalized event the watcher emits.
	StreamStorageEvents = "P8FS_STORAGE_EVENTS"
	// Per-tier streams fed by the router.
	StreamStorageEventsSmall  = "P8FS_STORAGE_EVENTS_SMALL"
	StreamStorageEventsMedium = "P8FS_STORAGE_EVENTS_MEDIUM"
	StreamStorageEventsLarge  = "P8FS_STORAGE_EVENTS_LARGE"

	SubjectStorageEventsMain   = "p8fs.storage.events.main"
	SubjectStorageEventsSmall  = "p8fs.storage.events.small"
	SubjectStorageEventsMedium = "p8fs.storage.events.medium"
	SubjectStorageEventsLarge  = "p8fs.storage.events.large"

	// SubjectCronRescan is the plain-NATS tick that forces a polling rescan.
	SubjectCronRescan = "P8FS_SYSTEM.cron.rescan"
)

// StreamSpec describes one JetStream stream to provision.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// ConsumerSpec describes one durable pull consumer to provision.
type ConsumerSpec struct {
	Stream        string
	Name          string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// EnsureStream idempotently creates a stream if absent.
func (c *Client) EnsureStream(spec StreamSpec) error {
	_, err := c.JS.StreamInfo(spec.Name)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", spec.Name))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    spec.MaxAge,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", spec.Name, err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", spec.Name))
	return nil
}

// EnsureConsumer idempotently creates a durable pull consumer with explicit
// acks. An existing consumer with the same name is left untouched.
func (c *Client) EnsureConsumer(spec ConsumerSpec) error {
	_, err := c.JS.ConsumerInfo(spec.Stream, spec.Name)
	if err == nil {
		c.Log.Info("NATS consumer exists",
			zap.String("stream", spec.Stream),
			zap.String("consumer", spec.Name))
		return nil
	}

	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to check consumer info: %w", err)
	}

	cfg := &nats.ConsumerConfig{
		Durable:       spec.Name,
		FilterSubject: spec.FilterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       spec.AckWait,
		MaxDeliver:    spec.MaxDeliver,
		MaxAckPending: spec.MaxAckPending,
	}

	if _, err := c.JS.AddConsumer(spec.Stream, cfg); err != nil {
		return fmt.Errorf("failed to create consumer %s on %s: %w", spec.Name, spec.Stream, err)
	}

	c.Log.Info("NATS consumer provisioned",
		zap.String("stream", spec.Stream),
		zap.String("consumer", spec.Name))
	return nil
}

// DeleteConsumer removes a consumer from a stream. A missing consumer is not
// an error: startup cleanup enumerates names that may never have existed.
func (c *Client) DeleteConsumer(stream, name string) error {
	err := c.JS.DeleteConsumer(stream, name)
	if err == nil {
		c.Log.Info("NATS consumer deleted",
			zap.String("stream", stream),
			zap.String("consumer", name))
		return nil
	}
	if errors.Is(err, nats.ErrConsumerNotFound) {
		return nil
	}
	return fmt.Errorf("failed to delete consumer %s on %s: %w", name, stream, err)
}

// ListConsumers returns the names of all consumers on a stream.
func (c *Client) ListConsumers(stream string) ([]string, error) {
	var names []string
	for name := range c.JS.ConsumerNames(stream) {
		names = append(names, name)
	}
	return names, nil
}
