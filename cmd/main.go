package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ecg-monitor/internal/analysis"
	"ecg-monitor/internal/config"
	"ecg-monitor/internal/database"
	"ecg-monitor/internal/export"
	"ecg-monitor/internal/handler"
	"ecg-monitor/internal/logger"
	"ecg-monitor/internal/metrics"
	"ecg-monitor/internal/models"
	"ecg-monitor/internal/session"
	"ecg-monitor/internal/source"
	"ecg-monitor/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	log.Println("Starting ECG monitor service...")
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, flush := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		MaxSizeMB:   5,
		MaxBackups:  3,
		MaxAgeDays:  28,
		ToConsole:   cfg.LogToConsole,
		ServiceName: "ecg-monitor",
	})
	defer flush()
	logConfiguration(cfg, zlog)

	repo, err := database.NewRepository(cfg.DBPath)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()
	interrupted, err := repo.MarkInterruptedSessions(time.Now().Unix())
	if err != nil {
		zlog.Error("Failed to close interrupted sessions", zap.Error(err))
	}
	for _, s := range interrupted {
		zlog.Warn("Marked interrupted session as failed",
			zap.String("sessionId", s.SessionID),
			zap.String("deviceId", s.DeviceID),
			zap.String("patientId", s.PatientID))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := stream.NewHub(cfg.WSQueue, zlog.Named("ws"))
	metrics.WatchStream(reg, hub)

	manager := session.NewManager(session.ManagerOptions{
		Sources:  sourceFactory(cfg),
		Store:    repo,
		Defaults: cfg.SessionDefaults(),
		Sinks:    []session.Sink{hub, m},
		OpenSink: exportSink(cfg),
		OnOverrun: func(deviceID string, lag time.Duration) {
			m.ObserveOverrun(deviceID, lag)
		},
		OnStart: func(models.SamplingSession) { m.SessionStarted() },
		OnEnd: func(_ models.SamplingSession, status models.SessionStatus) {
			m.SessionEnded(status)
		},
		Logger: zlog.Named("session"),
	})

	controller := handler.NewSessionController(manager, cfg.ShutdownGrace, zlog.Named("control"))
	mqttClient, err := handler.InitializeMQTT(cfg, controller, zlog.Named("mqtt"))
	if err != nil {
		zlog.Fatal("Failed to initialize MQTT client", zap.Error(err))
	}
	defer mqttClient.Disconnect(250)

	var scorer analysis.Scorer = analysis.NoopScorer{}
	if cfg.ScorerKind == "heuristic" {
		scorer = analysis.HeuristicScorer{}
	}
	procOpts := handler.AnalysisProcessorOptions{
		Analyzer: analysis.NewAnalyzer(cfg.AnalysisParams(), scorer),
		Store:    repo,
		Alerts:   handler.NewMQTTNotifier(mqttClient, cfg.AlertTopic, 2*time.Second),
		Metrics:  m,
		Logger:   zlog.Named("analysis"),
	}
	var publisher *handler.KafkaPublisher
	if cfg.KafkaEnabled {
		publisher, err = handler.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ResultsTopic, zlog.Named("kafka"))
		if err != nil {
			zlog.Fatal("Failed to initialize result producer", zap.Error(err))
		}
		procOpts.Results = publisher
	}
	processor := handler.NewAnalysisProcessor(procOpts)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.RoutesOptions{
		Store:    repo,
		Sessions: manager,
		Stream:   hub,
		Metrics:  metrics.Handler(reg),
		Logger:   zlog.Named("http"),
	})
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		zlog.Info("Shutdown signal received, stopping sessions and consumers...")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		zlog.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	if cfg.KafkaEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler.RunConsumer(ctx, cfg, cfg.AnalysisTopic, processor.HandleAnalysisMessage, zlog.Named("kafka")); err != nil {
				zlog.Error("Analysis consumer stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.NewHousekeeper(manager, zlog.Named("housekeeping")).RunHousekeepingCycle(ctx, time.Minute)
	}()

	zlog.Info("Service started successfully. Waiting for messages...")
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer stop()
	if err := manager.StopAll(shutdownCtx); err != nil {
		zlog.Warn("Sessions did not stop in time", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	hub.Close()
	wg.Wait()
	if publisher != nil {
		publisher.Close(int(cfg.ShutdownGrace / time.Millisecond))
	}
	zlog.Info("All services closed. Exiting.")
}

func sourceFactory(cfg *config.Config) session.SourceFactory {
	return func(session.Config) (source.Source, error) {
		if cfg.SourceKind == "sim" {
			return source.NewSimulator(cfg.SimHeartRate, cfg.SimNoiseMV), nil
		}
		return source.OpenADS1115(cfg.I2CBus, cfg.I2CAddress)
	}
}

func exportSink(cfg *config.Config) func(session.Config) (session.SinkCloser, error) {
	if cfg.ExportDir == "" {
		return nil
	}
	return func(sc session.Config) (session.SinkCloser, error) {
		name := sc.DeviceID + "_" + time.Now().UTC().Format("20060102T150405Z")
		return export.Create(cfg.ExportDir, name, cfg.ExportZstd, cfg.ExportFlush)
	}
}

func logConfiguration(cfg *config.Config, zlog *zap.Logger) {
	secret := func(v string) string {
		if v == "" {
			return "[NOT SET]"
		}
		return "[SET]"
	}
	zlog.Info("Service configuration",
		zap.String("kafkaBrokers", cfg.KafkaBrokers),
		zap.Bool("kafkaEnabled", cfg.KafkaEnabled),
		zap.String("analysisTopic", cfg.AnalysisTopic),
		zap.String("resultsTopic", cfg.ResultsTopic),
		zap.String("mqttBroker", cfg.MQTTBroker),
		zap.String("mqttPassword", secret(cfg.MQTTPassword)),
		zap.String("dbPath", cfg.DBPath),
		zap.String("httpAddr", cfg.HTTPAddr),
		zap.String("source", cfg.SourceKind),
		zap.Int("sampleRate", cfg.DefaultRate),
		zap.Bool("streamFilter", cfg.StreamFilter),
		zap.Bool("streamDetect", cfg.StreamDetect),
		zap.String("exportDir", cfg.ExportDir),
		zap.String("scorer", cfg.ScorerKind))
}
