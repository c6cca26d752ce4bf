// Package session runs live sampling: one scheduler, one source and one set
// of streaming filter state per device.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ecg-monitor/internal/detect"
	"ecg-monitor/internal/filter"
	"ecg-monitor/internal/models"
	"ecg-monitor/internal/scheduler"
	"ecg-monitor/internal/source"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink receives every record a session produces. An error ends the session.
// Sinks shared between sessions must be safe for concurrent use.
type Sink interface {
	Write(rec models.StreamRecord) error
}

type Config struct {
	SessionID string
	DeviceID  string
	PatientID string
	Channel   int
	GainIndex int
	RateHz    int

	Filter       bool
	Detect       bool
	FilterParams filter.Params
	DetectParams detect.StreamParams
}

type Session struct {
	cfg   Config
	src   source.Source
	sched *scheduler.Scheduler
	bank  *filter.Bank
	rdet  *detect.RDetector
	sinks []Sink
	log   *zap.Logger

	samples atomic.Uint64
	rPeaks  atomic.Uint64
}

// New prepares a session. The session owns src from here on and closes it
// when Run returns.
func New(cfg Config, src source.Source, clock scheduler.Clock, logger *zap.Logger, sinks ...Sink) (*Session, error) {
	sched, err := scheduler.New(float64(cfg.RateHz), clock)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:   cfg,
		src:   src,
		sched: sched,
		sinks: sinks,
		log:   logger.With(zap.String("sessionId", cfg.SessionID), zap.String("deviceId", cfg.DeviceID)),
	}
	rate := float64(cfg.RateHz)
	if cfg.Filter {
		s.bank = filter.NewBank(rate, cfg.FilterParams)
	}
	if cfg.Filter && cfg.Detect {
		s.rdet = detect.NewRDetector(rate, cfg.DetectParams)
	}
	return s, nil
}

func (s *Session) Config() Config { return s.cfg }

// Scheduler exposes the tick driver, e.g. to attach an overrun hook.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

func (s *Session) Samples() uint64 { return s.samples.Load() }

func (s *Session) RPeaks() uint64 { return s.rPeaks.Load() }

// Stop ends the session at the next tick boundary.
func (s *Session) Stop() { s.sched.Stop() }

// Run configures the source and samples until stopped, cancelled or a read
// or sink fails. The source is closed on every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.src.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close source: %w", cerr))
		}
	}()

	token, err := s.src.Configure(s.cfg.Channel, s.cfg.GainIndex, s.cfg.RateHz)
	if err != nil {
		return fmt.Errorf("configure source: %w", err)
	}
	s.log.Info("Sampling started",
		zap.Int("rateHz", s.cfg.RateHz),
		zap.Int("channel", s.cfg.Channel),
		zap.Int("gain", s.cfg.GainIndex),
		zap.String("config", fmt.Sprintf("0x%04X", uint16(token))),
		zap.Bool("filter", s.bank != nil),
		zap.Bool("detect", s.rdet != nil))

	if s.bank != nil {
		s.bank.Reset()
	}
	if s.rdet != nil {
		s.rdet.Reset()
	}

	err = s.sched.Run(ctx, s.tick)
	s.log.Info("Sampling ended", zap.Uint64("samples", s.Samples()), zap.Uint64("rPeaks", s.RPeaks()), zap.Error(err))
	return err
}

func (s *Session) tick(now time.Time) error {
	raw, err := s.src.Read()
	if err != nil {
		return fmt.Errorf("read sample: %w", err)
	}
	rec := models.StreamRecord{
		SessionID: s.cfg.SessionID,
		DeviceID:  s.cfg.DeviceID,
		Sample: models.Sample{
			Timestamp: now.UTC().Truncate(time.Microsecond),
			Raw:       raw,
			VoltageMV: source.VoltageMV(raw, s.cfg.GainIndex),
		},
	}
	if s.bank != nil {
		rec.Filtered = true
		rec.FilteredMV = s.bank.Process(rec.Sample.VoltageMV)
		if s.rdet != nil {
			rec.Detecting = true
			rec.RDetected = s.rdet.Process(rec.FilteredMV, now)
			if rec.RDetected {
				s.rPeaks.Add(1)
			}
		}
	}
	s.samples.Add(1)

	for _, sink := range s.sinks {
		if err := sink.Write(rec); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return nil
}
