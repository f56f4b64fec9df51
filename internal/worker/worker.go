// Package worker consumes one tier's storage events and turns objects into
// indexed entities: download, parse, chunk, persist, embed.
//
// Acking is disciplined the same way across tiers:
//   - msg.Ack() only after the entity writes commit, or when the message can
//     never succeed (malformed payload, vanished object, no parser).
//   - msg.Nak() requeues transient failures (store or DB unreachable).
//   - Parser failures are retried until the delivery budget runs out, then
//     the failure is recorded on the file row and the message is acked.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/objectstore"
	"github.com/Healer-AI/p8fs/internal/repository"
	"github.com/Healer-AI/p8fs/internal/tenant"
	"github.com/Healer-AI/p8fs/internal/tier"
)

const (
	batchSize    = 1
	fetchTimeout = 30 * time.Second

	// nakStormThreshold is the consecutive-nak count that starts backoff.
	// Repeated naks mean a shared dependency is down; hammering it with
	// immediate redeliveries only makes the outage louder.
	nakStormThreshold = 3
	nakStormMaxSleep  = 30 * time.Second
)

// Worker processes one tier's queue.
type Worker struct {
	tier       tier.Tier
	nats       *natsclient.Client
	store      objectstore.Store
	repo       repository.Repository
	parsers    *ParserRegistry
	processors *ProcessorRegistry
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New constructs a Worker bound to one tier.
func New(t tier.Tier, n *natsclient.Client, store objectstore.Store, repo repository.Repository, parsers *ParserRegistry, processors *ProcessorRegistry, logger *zap.Logger) *Worker {
	return &Worker{
		tier:       t,
		nats:       n,
		store:      store,
		repo:       repo,
		parsers:    parsers,
		processors: processors,
		logger:     logger.With(zap.String("tier", t.Name)),
		tracer:     otel.Tracer("p8fs-worker"),
	}
}

// Start binds the tier's durable consumer and launches the processing loop
// in a background goroutine. It returns immediately. The consumer must
// already exist; the router provisions it at startup.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.nats.PullSubscribe(w.tier.Subject, w.tier.Consumer, w.tier.Stream)
	if err != nil {
		return fmt.Errorf("worker %s: PullSubscribe: %w", w.tier.Name, err)
	}

	w.logger.Info("worker initialised",
		zap.String("stream", w.tier.Stream),
		zap.String("durable", w.tier.Consumer),
		zap.String("subject", w.tier.Subject),
	)

	go w.run(ctx, sub)
	return nil
}

func (w *Worker) run(ctx context.Context, sub *nats.Subscription) {
	consecutiveNaks := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		msgs, err := w.nats.Fetch(ctx, sub, batchSize, fetchTimeout)
		if err != nil {
			w.logger.Warn("fetch failed", zap.Error(err))
			continue
		}
		if len(msgs) == 0 {
			consecutiveNaks = 0
			continue
		}

		for _, msg := range msgs {
			if w.processMessage(ctx, msg) {
				consecutiveNaks++
			} else {
				consecutiveNaks = 0
			}
		}

		if delay := nakStormDelay(consecutiveNaks); delay > 0 {
			w.logger.Warn("backing off after repeated naks",
				zap.Int("consecutive", consecutiveNaks),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// nakStormDelay returns how long to pause after consecutive naks, doubling
// from one second and capped at nakStormMaxSleep.
func nakStormDelay(consecutive int) time.Duration {
	if consecutive < nakStormThreshold {
		return 0
	}
	d := time.Duration(1<<uint(consecutive-nakStormThreshold)) * time.Second
	if d > nakStormMaxSleep {
		d = nakStormMaxSleep
	}
	return d
}

// ── message dispatch ──────────────────────────────────────────────────────

// processMessage dispatches a single NATS message and handles ACK/NAK. It
// keeps processEvent free of NATS concerns for unit-testability. The return
// value reports whether the message was nakked, which feeds storm backoff.
func (w *Worker) processMessage(ctx context.Context, msg *nats.Msg) (nakked bool) {
	ctx, cancel := context.WithTimeout(ctx, w.tier.ProcessingTimeout)
	defer cancel()

	err := w.processEvent(ctx, msg.Data)
	if err == nil {
		msg.Ack()
		return false
	}

	switch e := err.(type) {
	case *badMessageError:
		// Malformed or unroutable, it can never succeed. Drop it.
		w.logger.Warn("dropping bad storage event", zap.Error(e))
		msg.Ack()
		return false
	case *objectGoneError:
		// The object vanished between event and download. Nothing to index.
		w.logger.Warn("object gone before download", zap.Error(e))
		msg.Ack()
		return false
	case *parserFailedError:
		if w.lastDelivery(msg) {
			w.recordFailure(ctx, e)
			w.logger.Error("parser failed on final delivery, recording and dropping", zap.Error(e))
			msg.Ack()
			return false
		}
		w.logger.Warn("NAK storage event (parser failure)", zap.Error(e))
		msg.Nak()
		return true
	default:
		// Transient (store or DB unreachable), NAK to redeliver.
		w.logger.Error("NAK storage event (transient error)", zap.Error(err))
		msg.Nak()
		return true
	}
}

// lastDelivery reports whether this delivery exhausts the consumer's budget.
// The delivery count is read from the ACK reply subject
// ($JS.ACK.<stream>.<consumer>.<delivered>.<sseq>.<cseq>.<ts>.<pending>).
func (w *Worker) lastDelivery(msg *nats.Msg) bool {
	tokens := strings.Split(msg.Reply, ".")
	if len(tokens) < 9 || tokens[0] != "$JS" || tokens[1] != "ACK" {
		return false
	}
	delivered, err := strconv.Atoi(tokens[4])
	if err != nil {
		return false
	}
	return delivered >= w.tier.MaxDeliver
}

// recordFailure writes the parse failure onto the file row so the outcome is
// queryable after the message is gone.
func (w *Worker) recordFailure(ctx context.Context, e *parserFailedError) {
	ctx = tenant.WithTenantID(ctx, e.tenantID)
	rec := repository.Record{
		"id":               e.fileID,
		"uri":              e.uri,
		"file_size":        e.size,
		"upload_timestamp": time.Now().UTC(),
		"metadata": map[string]any{
			"status": "failed",
			"error":  e.err.Error(),
		},
	}
	if _, err := w.repo.Upsert(ctx, model.ModelFile, rec); err != nil {
		w.logger.Error("failed to record parse failure", zap.String("file_id", e.fileID), zap.Error(err))
	}
}

// ── event processing ──────────────────────────────────────────────────────

// processEvent decodes a raw message and executes the pipeline for it.
// Returns *badMessageError for structurally invalid events, *objectGoneError
// when the object no longer exists, *parserFailedError for parse failures,
// and a plain error for transient conditions.
func (w *Worker) processEvent(ctx context.Context, data []byte) error {
	var ev model.StorageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return &badMessageError{msg: fmt.Sprintf("unmarshal event: %v", err)}
	}
	if !ev.EventType.Valid() {
		return &badMessageError{msg: fmt.Sprintf("unknown event type %q", ev.EventType)}
	}
	if ev.TenantID == "" {
		if ev.PathInfo != nil {
			ev.TenantID = ev.PathInfo.TenantID
		}
		if ev.TenantID == "" {
			if pi, err := model.ParsePath(ev.Path); err == nil {
				ev.TenantID = pi.TenantID
			}
		}
	}
	if ev.TenantID == "" {
		return &badMessageError{msg: fmt.Sprintf("no tenant for path %q", ev.Path)}
	}

	ctx = tenant.WithTenantID(ctx, ev.TenantID)

	switch ev.EventType {
	case model.EventDelete:
		return w.handleDelete(ctx, &ev)
	case model.EventCreate, model.EventUpdate:
		return w.handleIngest(ctx, &ev)
	default:
		// rename and friends carry no content change to index
		w.logger.Debug("skipping event without content change",
			zap.String("event_type", string(ev.EventType)),
			zap.String("path", ev.Path))
		return nil
	}
}

// handleIngest runs the download-parse-persist pipeline for one object.
// Every id is derived from tenant and path, so reprocessing the same event
// converges on the same rows.
func (w *Worker) handleIngest(ctx context.Context, ev *model.StorageEvent) error {
	ctx, span := w.tracer.Start(ctx, "worker.ingest")
	defer span.End()

	size := ev.ExtractFileSize()
	fileID := model.FileID(ev.TenantID, ev.Path).String()

	tmpPath, err := w.store.DownloadToTemp(ctx, ev.Path, ev.TenantID)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return &objectGoneError{path: ev.Path}
		}
		return fmt.Errorf("download %s: %w", ev.Path, err)
	}
	defer os.Remove(tmpPath)

	hash, hashedSize, err := hashFile(tmpPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", ev.Path, err)
	}
	if size <= 0 {
		size = hashedSize
	}

	// Structured documents may claim the whole object before chunking runs.
	ext := filepath.Ext(ev.Path)
	if proc, ok := w.processors.Get(ext); ok {
		raw, err := os.ReadFile(tmpPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", tmpPath, err)
		}
		handled, err := proc.Process(ctx, ev, raw)
		if err != nil {
			return fmt.Errorf("process %s: %w", ev.Path, err)
		}
		if handled {
			return w.upsertFile(ctx, ev, fileID, size, hash, fileStatus{
				Status:    "processed",
				Processor: "engram",
			})
		}
	}

	parser, ok := w.parsers.Get(ev.Path)
	if !ok {
		// No parser claims this type. Record the file so it is visible and
		// searchable by name, and move on.
		w.logger.Info("no parser for file, storing metadata only",
			zap.String("path", ev.Path), zap.String("ext", ext))
		return w.upsertFile(ctx, ev, fileID, size, hash, fileStatus{Status: "stored"})
	}

	chunks, err := parser.Parse(tmpPath)
	if err != nil {
		return &parserFailedError{tenantID: ev.TenantID, fileID: fileID, uri: ev.Path, size: size, err: err}
	}

	if err := w.upsertChunks(ctx, ev, fileID, chunks); err != nil {
		return err
	}
	if err := w.cleanupStaleChunks(ctx, fileID, len(chunks)); err != nil {
		return err
	}

	return w.upsertFile(ctx, ev, fileID, size, hash, fileStatus{
		Status:     "processed",
		ChunkCount: len(chunks),
	})
}

type fileStatus struct {
	Status     string
	Processor  string
	ChunkCount int
	Error      string
}

func (w *Worker) upsertFile(ctx context.Context, ev *model.StorageEvent, fileID string, size int64, hash string, st fileStatus) error {
	meta := map[string]any{"status": st.Status}
	if st.Processor != "" {
		meta["processor"] = st.Processor
	}
	if st.ChunkCount > 0 {
		meta["chunk_count"] = st.ChunkCount
	}
	if st.Error != "" {
		meta["error"] = st.Error
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	rec := repository.Record{
		"id":               fileID,
		"uri":              ev.Path,
		"file_size":        size,
		"mime_type":        contentType(ev),
		"content_hash":     hash,
		"upload_timestamp": ts,
		"metadata":         meta,
	}
	if _, err := w.repo.Upsert(ctx, model.ModelFile, rec); err != nil {
		return fmt.Errorf("upsert file %s: %w", fileID, err)
	}

	w.logger.Info("file indexed",
		zap.String("file_id", fileID),
		zap.String("path", ev.Path),
		zap.String("status", st.Status),
		zap.Int("chunks", st.ChunkCount),
	)
	return nil
}

// upsertChunks persists one resource per chunk. Embeddings for the content
// field are recomputed by the repository during the upsert.
func (w *Worker) upsertChunks(ctx context.Context, ev *model.StorageEvent, fileID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	base := filepath.Base(ev.Path)

	recs := make([]repository.Record, 0, len(chunks))
	for _, c := range chunks {
		meta := map[string]any{
			"file_id":    fileID,
			"chunk_type": c.ChunkType,
		}
		for k, v := range c.Metadata {
			meta[k] = v
		}
		recs = append(recs, repository.Record{
			"id":                 model.ResourceID(ev.TenantID, ev.Path, c.Ordinal).String(),
			"name":               fmt.Sprintf("%s#%d", base, c.Ordinal),
			"category":           c.ChunkType,
			"content":            c.Content,
			"ordinal":            c.Ordinal,
			"uri":                ev.Path,
			"resource_timestamp": ts,
			"metadata":           meta,
		})
	}

	if _, err := w.repo.Upsert(ctx, model.ModelResource, recs...); err != nil {
		return fmt.Errorf("upsert %d resources for %s: %w", len(recs), fileID, err)
	}
	return nil
}

// cleanupStaleChunks removes resources left over from a longer previous
// version of the file, so reprocessing converges instead of accreting.
func (w *Worker) cleanupStaleChunks(ctx context.Context, fileID string, chunkCount int) error {
	recs, err := w.repo.Select(ctx, model.ModelResource, repository.SelectQuery{
		Filters: map[string]any{"metadata": map[string]any{"file_id": fileID}},
	})
	if err != nil {
		return fmt.Errorf("select resources for %s: %w", fileID, err)
	}

	for _, rec := range recs {
		if ordinalOf(rec) < chunkCount {
			continue
		}
		id, _ := rec["id"].(string)
		if id == "" {
			continue
		}
		if _, err := w.repo.Delete(ctx, model.ModelResource, id); err != nil {
			return fmt.Errorf("delete stale resource %s: %w", id, err)
		}
	}
	return nil
}

// handleDelete removes the file row and every entity derived from it. The
// derived rows are found by metadata containment on file_id.
func (w *Worker) handleDelete(ctx context.Context, ev *model.StorageEvent) error {
	ctx, span := w.tracer.Start(ctx, "worker.delete")
	defer span.End()

	fileID := model.FileID(ev.TenantID, ev.Path).String()
	filter := map[string]any{"metadata": map[string]any{"file_id": fileID}}

	removed := 0
	for _, modelName := range []string{model.ModelResource, model.ModelMoment} {
		recs, err := w.repo.Select(ctx, modelName, repository.SelectQuery{Filters: filter})
		if err != nil {
			return fmt.Errorf("select %s for %s: %w", modelName, fileID, err)
		}
		for _, rec := range recs {
			id, _ := rec["id"].(string)
			if id == "" {
				continue
			}
			if _, err := w.repo.Delete(ctx, modelName, id); err != nil {
				return fmt.Errorf("delete %s %s: %w", modelName, id, err)
			}
			removed++
		}
	}

	// Absent file row means the delete already ran or nothing was indexed.
	// Either way the outcome matches the event, so proceed to ack.
	if _, err := w.repo.Delete(ctx, model.ModelFile, fileID); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}

	w.logger.Info("file unindexed",
		zap.String("file_id", fileID),
		zap.String("path", ev.Path),
		zap.Int("derived_removed", removed),
	)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────

// badMessageError wraps events that can never process successfully.
// processMessage acks (drops) messages wrapped in this type.
type badMessageError struct{ msg string }

func (e *badMessageError) Error() string { return "bad message: " + e.msg }

// objectGoneError marks a download whose object no longer exists.
type objectGoneError struct{ path string }

func (e *objectGoneError) Error() string { return "object gone: " + e.path }

// parserFailedError carries enough context to record the failure on the
// file row once the delivery budget is spent.
type parserFailedError struct {
	tenantID string
	fileID   string
	uri      string
	size     int64
	err      error
}

func (e *parserFailedError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.uri, e.err)
}

func (e *parserFailedError) Unwrap() error { return e.err }

func contentType(ev *model.StorageEvent) string {
	if ev.Metadata == nil {
		return ""
	}
	ct, _ := ev.Metadata["content_type"].(string)
	return ct
}

func ordinalOf(rec repository.Record) int {
	switch v := rec["ordinal"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
