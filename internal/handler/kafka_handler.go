package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"ecg-monitor/internal/analysis"
	"ecg-monitor/internal/metrics"
	"ecg-monitor/internal/models"

	"go.uber.org/zap"
)

// AnalysisStore persists a result and its RR events and alerts.
type AnalysisStore interface {
	SaveAnalysis(requestID, patientID string, res models.AnalysisResult, at time.Time) (string, error)
}

type ResultPublisher interface {
	PublishResult(env models.AnalysisEnvelope) error
}

type AlertNotifier interface {
	NotifyAlert(n models.AlertNotification) error
}

type AnalysisProcessorOptions struct {
	Analyzer *analysis.Analyzer
	Store    AnalysisStore
	Results  ResultPublisher
	Alerts   AlertNotifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// AnalysisProcessor consumes analysis requests, runs the batch pipeline and
// hands the outcome to persistence and delivery collaborators. Every
// collaborator other than the analyzer is optional.
type AnalysisProcessor struct {
	analyzer *analysis.Analyzer
	store    AnalysisStore
	results  ResultPublisher
	alerts   AlertNotifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewAnalysisProcessor(opts AnalysisProcessorOptions) *AnalysisProcessor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.NewAnalyzer(analysis.DefaultParams(), nil)
	}
	return &AnalysisProcessor{
		analyzer: opts.Analyzer,
		store:    opts.Store,
		results:  opts.Results,
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// HandleAnalysisMessage is the Kafka handler for the analysis topic.
func (p *AnalysisProcessor) HandleAnalysisMessage(msgValue []byte) {
	var req models.AnalysisRequest
	if err := json.Unmarshal(msgValue, &req); err != nil {
		p.log.Error("Error unmarshalling analysis request", zap.Error(err), zap.Int("bytes", len(msgValue)))
		if p.metrics != nil {
			p.metrics.ObserveAnalysis(0, 0, nil)
		}
		return
	}
	if _, err := p.Process(req); err != nil {
		p.log.Error("Analysis delivery failed", zap.String("requestId", req.RequestID), zap.Error(err))
	}
}

// Process analyses one request. The envelope is always complete; the error
// reports persistence or publication failures.
func (p *AnalysisProcessor) Process(req models.AnalysisRequest) (models.AnalysisEnvelope, error) {
	rate := req.SampleRateHz
	if !(rate > 0) && len(req.Timestamps) > 0 {
		rate = analysis.EstimateRate(req.Timestamps)
	}

	start := p.now()
	res := p.analyzer.Analyze(req.Signal, rate)
	elapsed := p.now().Sub(start)
	if p.metrics != nil {
		p.metrics.ObserveAnalysis(len(req.Signal), elapsed, &res)
	}

	logger := p.log.With(zap.String("requestId", req.RequestID), zap.String("patientId", req.PatientID))
	if !analysis.Valid(req.Signal, rate) {
		logger.Warn("Malformed analysis window", zap.Int("samples", len(req.Signal)), zap.Float64("sampleRateHz", rate))
	}

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	completed := p.now()
	if req.Persist && p.store != nil {
		id, err := p.store.SaveAnalysis(req.RequestID, req.PatientID, res, completed)
		if err != nil {
			keep(fmt.Errorf("persist analysis: %w", err))
		} else {
			res.AnalysisID = id
		}
	}

	env := models.AnalysisEnvelope{
		RequestID:   req.RequestID,
		PatientID:   req.PatientID,
		CompletedAt: completed.UnixMilli(),
		Result:      res,
	}
	logger.Info("Analysis completed",
		zap.Int("rPeaks", res.NRPeaks),
		zap.Int("pPeaks", res.NPPeaks),
		zap.Int("tPeaks", res.NTPeaks),
		zap.Int("alerts", len(res.Alerts)),
		zap.String("analysisId", res.AnalysisID),
		zap.Duration("elapsed", elapsed))

	if p.results != nil {
		if err := p.results.PublishResult(env); err != nil {
			keep(fmt.Errorf("publish result: %w", err))
		}
	}
	if p.alerts != nil {
		for _, n := range Notifications(env) {
			if err := p.alerts.NotifyAlert(n); err != nil {
				keep(fmt.Errorf("notify %s: %w", n.Alert.Type, err))
			}
		}
	}
	return env, firstErr
}

// Notifications fans an envelope's alerts out, one message per alert.
func Notifications(env models.AnalysisEnvelope) []models.AlertNotification {
	out := make([]models.AlertNotification, 0, len(env.Result.Alerts))
	for _, a := range env.Result.Alerts {
		out = append(out, models.AlertNotification{
			PatientID:  env.PatientID,
			AnalysisID: env.Result.AnalysisID,
			Timestamp:  env.CompletedAt,
			Alert:      a,
		})
	}
	return out
}
