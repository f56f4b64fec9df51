package watcher

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/natsclient"
)

// RescanScheduler publishes periodic rescan ticks so polling watchers run a
// full pass even when the change feed is quiet. Ticks travel over plain
// NATS; a missed tick just means the next interval catches up.
type RescanScheduler struct {
	cron   *cron.Cron
	nats   *natsclient.Client
	spec   string
	logger *zap.Logger
}

type tickPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// NewRescanScheduler creates the scheduler. An empty spec defaults to
// hourly.
func NewRescanScheduler(nc *natsclient.Client, spec string, logger *zap.Logger) *RescanScheduler {
	if spec == "" {
		spec = "@hourly"
	}
	return &RescanScheduler{
		cron:   cron.New(),
		nats:   nc,
		spec:   spec,
		logger: logger,
	}
}

// Start registers the tick job and starts the scheduler.
func (s *RescanScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.publishTick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("rescan scheduler started",
		zap.String("spec", s.spec),
		zap.String("subject", natsclient.SubjectCronRescan))
	return nil
}

// Stop gracefully stops the scheduler.
func (s *RescanScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("rescan scheduler stopped")
}

func (s *RescanScheduler) publishTick() {
	data, err := json.Marshal(tickPayload{
		Event:     "cron.rescan",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to marshal rescan tick", zap.Error(err))
		return
	}

	if err := s.nats.PublishCore(natsclient.SubjectCronRescan, data); err != nil {
		s.logger.Error("failed to publish rescan tick", zap.Error(err))
		return
	}
	s.logger.Info("rescan tick published")
}
