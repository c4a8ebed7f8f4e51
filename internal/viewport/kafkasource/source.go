// Package kafkasource feeds viewport changes from a Kafka topic into the
// pipeline.
package kafkasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
)

// ViewportSetter receives accepted viewports.
type ViewportSetter interface {
	SetViewport(v model.Viewport) error
}

const defaultSource = "default"

type Source struct {
	log    *slog.Logger
	cfg    Config
	target ViewportSetter
	ms     *metricSet
	seq    *seqDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg Config, target ViewportSetter, opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Source{
		log:    opts.Logger,
		cfg:    cfg,
		target: target,
		ms:     newMetricSet(opts.Register),
		seq:    newSeqDedupe(1024),
		assign: map[int32]struct{}{},
	}
}

func (s *Source) Start(ctx context.Context) error {
	if s.target == nil {
		return errors.New("kafka viewport source: target is required")
	}
	if len(s.cfg.Brokers) == 0 || s.cfg.Topic == "" {
		return errors.New("kafka viewport source: brokers and topic are required")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = s.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = s.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = s.cfg.RebalanceTimeout
	if s.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(s.cfg.Brokers, s.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			s.assignMu.Lock()
			s.assigned.Store(true)
			s.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					s.assign[p] = struct{}{}
				}
			}
			s.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			s.assignMu.Lock()
			s.assigned.Store(false)
			s.assign = map[int32]struct{}{}
			s.assignMu.Unlock()
		},
		process: s.handleMessage,
		log:     s.log,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				s.log.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{s.cfg.Topic}, h); err != nil {
				s.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for err := range group.Errors() {
			s.log.Error("kafka group error", "err", err)
		}
	}()

	s.log.Info("kafka viewport source started",
		"topic", s.cfg.Topic, "group", s.cfg.GroupID, "brokers", s.cfg.Brokers)
	return nil
}

func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("kafka viewport source stopped")
}

func (s *Source) Readiness() (ready bool, partitions []int32) {
	if !s.assigned.Load() {
		return false, nil
	}
	s.assignMu.RLock()
	defer s.assignMu.RUnlock()
	for p := range s.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one viewport event. Events with a sequence number
// not newer than the last applied one from the same source are skipped;
// seq 0 disables ordering for that event.
func (s *Source) handleMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() { s.ms.proc.Observe(time.Since(start).Seconds()) }()

	if !msg.Timestamp.IsZero() {
		s.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		s.ms.msgs.WithLabelValues("error").Inc()
		observability.IncViewportUpdate("kafka", err)
		return fmt.Errorf("decode: %w", err)
	}
	v, err := ev.Viewport()
	if err != nil {
		s.ms.msgs.WithLabelValues("error").Inc()
		observability.IncViewportUpdate("kafka", err)
		return fmt.Errorf("validate: %w", err)
	}

	source := ev.Source
	if source == "" {
		source = defaultSource
	}
	if ev.Seq > 0 && !s.seq.shouldApply(source, ev.Seq) {
		s.ms.msgs.WithLabelValues("skip_seq").Inc()
		return nil
	}

	err = s.target.SetViewport(v)
	observability.IncViewportUpdate("kafka", err)
	if err != nil {
		s.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("set viewport: %w", err)
	}
	s.ms.msgs.WithLabelValues("ok").Inc()
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
	log     *slog.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

// ConsumeClaim marks every message, including rejected ones; a bad camera
// event is dropped rather than retried.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			h.log.Warn("viewport event rejected",
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
