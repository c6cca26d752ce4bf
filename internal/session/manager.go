package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecg-monitor/internal/detect"
	"ecg-monitor/internal/filter"
	"ecg-monitor/internal/models"
	"ecg-monitor/internal/scheduler"
	"ecg-monitor/internal/source"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("session: device already sampling")
	ErrNotRunning     = errors.New("session: device not sampling")
	ErrClosed         = errors.New("session: manager is shutting down")
)

// Store persists session lifecycle transitions.
type Store interface {
	CreateSession(s models.SamplingSession) error
	FinishSession(sessionID string, status models.SessionStatus, endTime int64, lastError string) error
}

// SinkCloser is a per-session sink that is closed when its session ends.
type SinkCloser interface {
	Sink
	Close() error
}

type SourceFactory func(cfg Config) (source.Source, error)

type Defaults struct {
	Channel      int
	GainIndex    int
	RateHz       int
	Filter       bool
	Detect       bool
	FilterParams filter.Params
	DetectParams detect.StreamParams
}

type ManagerOptions struct {
	Sources  SourceFactory
	Clock    scheduler.Clock
	Store    Store
	Defaults Defaults
	// Sinks are shared by every session.
	Sinks []Sink
	// OpenSink, when set, adds a private sink to each new session.
	OpenSink func(cfg Config) (SinkCloser, error)
	// OnOverrun is called with the device ID when a tick runs late.
	OnOverrun func(deviceID string, lag time.Duration)
	// OnStart and OnEnd observe session lifecycle transitions.
	OnStart func(info models.SamplingSession)
	OnEnd   func(info models.SamplingSession, status models.SessionStatus)
	Logger  *zap.Logger
}

type running struct {
	session *Session
	info    models.SamplingSession
	done    chan struct{}
}

// Manager keeps at most one running session per device.
type Manager struct {
	opts ManagerOptions
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*running
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock()
	}
	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		sessions: make(map[string]*running),
	}
}

// ConfigFor fills the unset fields of a start request from the defaults.
func (m *Manager) ConfigFor(req models.SessionStartPayload) Config {
	d := m.opts.Defaults
	cfg := Config{
		SessionID:    uuid.NewString(),
		DeviceID:     req.DeviceID,
		PatientID:    req.PatientID,
		Channel:      d.Channel,
		GainIndex:    d.GainIndex,
		RateHz:       d.RateHz,
		Filter:       d.Filter,
		Detect:       d.Detect,
		FilterParams: d.FilterParams,
		DetectParams: d.DetectParams,
	}
	if req.Channel != nil {
		cfg.Channel = *req.Channel
	}
	if req.Gain != nil {
		cfg.GainIndex = *req.Gain
	}
	if req.Rate != nil {
		cfg.RateHz = *req.Rate
	}
	if req.Filter != nil {
		cfg.Filter = *req.Filter
	}
	if req.Detect != nil {
		cfg.Detect = *req.Detect
	}
	return cfg
}

// Start opens a source for the device and begins sampling in the
// background. The returned record describes the new session.
func (m *Manager) Start(req models.SessionStartPayload) (models.SamplingSession, error) {
	if req.DeviceID == "" {
		return models.SamplingSession{}, fmt.Errorf("session: deviceId is required")
	}
	cfg := m.ConfigFor(req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.SamplingSession{}, ErrClosed
	}
	if _, ok := m.sessions[cfg.DeviceID]; ok {
		return models.SamplingSession{}, ErrAlreadyRunning
	}

	src, err := m.opts.Sources(cfg)
	if err != nil {
		return models.SamplingSession{}, fmt.Errorf("open source: %w", err)
	}
	sinks := append([]Sink{}, m.opts.Sinks...)
	var private SinkCloser
	if m.opts.OpenSink != nil {
		if private, err = m.opts.OpenSink(cfg); err != nil {
			_ = src.Close()
			return models.SamplingSession{}, fmt.Errorf("open sink: %w", err)
		}
		sinks = append(sinks, private)
	}
	sess, err := New(cfg, src, m.opts.Clock, m.log, sinks...)
	if err != nil {
		_ = src.Close()
		if private != nil {
			_ = private.Close()
		}
		return models.SamplingSession{}, err
	}
	if m.opts.OnOverrun != nil {
		deviceID := cfg.DeviceID
		sess.Scheduler().SetOverrunHook(func(lag time.Duration) { m.opts.OnOverrun(deviceID, lag) })
	}

	info := models.SamplingSession{
		SessionID: cfg.SessionID,
		DeviceID:  cfg.DeviceID,
		PatientID: cfg.PatientID,
		Status:    models.SessionRunning,
		RateHz:    cfg.RateHz,
		StartTime: time.Now().Unix(),
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.CreateSession(info); err != nil {
			m.log.Error("Failed to record session start", zap.String("sessionId", cfg.SessionID), zap.Error(err))
		}
	}

	r := &running{session: sess, info: info, done: make(chan struct{})}
	m.sessions[cfg.DeviceID] = r
	if m.opts.OnStart != nil {
		m.opts.OnStart(info)
	}
	m.wg.Add(1)
	go m.run(r, private)
	return info, nil
}

func (m *Manager) run(r *running, private SinkCloser) {
	defer m.wg.Done()
	defer close(r.done)

	err := r.session.Run(context.Background())
	if private != nil {
		if cerr := private.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}

	status, lastErr := models.SessionStopped, ""
	if err != nil && !errors.Is(err, context.Canceled) {
		status, lastErr = models.SessionFailed, err.Error()
		m.log.Error("Sampling session failed", zap.String("sessionId", r.info.SessionID), zap.String("deviceId", r.info.DeviceID), zap.Error(err))
	}
	if m.opts.Store != nil {
		if serr := m.opts.Store.FinishSession(r.info.SessionID, status, time.Now().Unix(), lastErr); serr != nil {
			m.log.Error("Failed to record session end", zap.String("sessionId", r.info.SessionID), zap.Error(serr))
		}
	}

	m.mu.Lock()
	if cur, ok := m.sessions[r.info.DeviceID]; ok && cur == r {
		delete(m.sessions, r.info.DeviceID)
	}
	m.mu.Unlock()
	if m.opts.OnEnd != nil {
		m.opts.OnEnd(r.info, status)
	}
}

// Stop signals the device's session and waits until it has returned or
// ctx is done.
func (m *Manager) Stop(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	r, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	r.session.Stop()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every session and waits for them to finish. The manager
// refuses new sessions afterwards.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, r := range m.sessions {
		r.session.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active lists running sessions.
func (m *Manager) Active() []models.SamplingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SamplingSession, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.info)
	}
	return out
}

// Session returns the running session for a device.
func (m *Manager) Session(deviceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[deviceID]
	if !ok {
		return nil, false
	}
	return r.session, true
}
