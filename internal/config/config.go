package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"ecg-monitor/internal/alert"
	"ecg-monitor/internal/analysis"
	"ecg-monitor/internal/detect"
	"ecg-monitor/internal/filter"
	"ecg-monitor/internal/hrv"
	"ecg-monitor/internal/session"

	"github.com/joho/godotenv"
)

type Config struct {
	KafkaBrokers   string
	AnalysisTopic  string
	ResultsTopic   string
	ConsumerGroup  string
	KafkaEnabled   bool
	MQTTBroker     string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	StartTopic     string
	StopTopic      string
	AlertTopic     string
	DBPath         string
	HTTPAddr       string
	LogLevel       string
	LogFile        string
	LogToConsole   bool
	ShutdownGrace  time.Duration
	ExportDir      string
	ExportZstd     int
	ExportFlush    int
	WSQueue        int
	SourceKind     string
	I2CBus         string
	I2CAddress     uint16
	SimHeartRate   float64
	SimNoiseMV     float64
	DefaultChannel int
	DefaultGain    int
	DefaultRate    int
	StreamFilter   bool
	StreamDetect   bool
	HighpassHz     float64
	LowpassHz      float64
	DetectFactor   float64
	DetectFloorMV  float64
	Refractory     time.Duration
	EnvelopeWindow time.Duration
	ScorerKind     string
	Alerts         alert.Thresholds
}

func LoadConfig() *Config {
	err := godotenv.Load() // Looks for ".env" in the current directory
	if err != nil {
		log.Println("No .env file found, using environment variables or default values")
	}
	return FromEnv()
}

// FromEnv reads the process environment without touching .env.
func FromEnv() *Config {
	th := alert.DefaultThresholds()
	sp := detect.DefaultStreamParams()
	fp := filter.DefaultParams()
	return &Config{
		KafkaBrokers:   getEnv("KAFKA_BROKERS", "localhost:9092"),
		AnalysisTopic:  getEnv("ANALYSIS_TOPIC", "ecg-analysis-requests"),
		ResultsTopic:   getEnv("RESULTS_TOPIC", "ecg-analysis-results"),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "ecg_monitor"),
		KafkaEnabled:   getEnvBool("KAFKA_ENABLED", true),
		MQTTBroker:     getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "ecg_monitor_local"),
		MQTTUsername:   getEnv("MQTT_USERNAME", ""),
		MQTTPassword:   getEnv("MQTT_PASSWORD", ""),
		StartTopic:     getEnv("SESSION_START_TOPIC", "ecg/session/start"),
		StopTopic:      getEnv("SESSION_STOP_TOPIC", "ecg/session/stop"),
		AlertTopic:     getEnv("ALERT_TOPIC", "ecg/alerts"),
		DBPath:         getEnv("DB_PATH", "ecg.db"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", "./logs/ecg-monitor.log"),
		LogToConsole:   getEnvBool("LOG_TO_CONSOLE", false),
		ShutdownGrace:  getEnvDuration("SHUTDOWN_GRACE", 5*time.Second),
		ExportDir:      getEnv("EXPORT_DIR", ""),
		ExportZstd:     getEnvInt("EXPORT_ZSTD_LEVEL", 0),
		ExportFlush:    getEnvInt("EXPORT_FLUSH_ROWS", 250),
		WSQueue:        getEnvInt("WS_QUEUE", 1024),
		SourceKind:     strings.ToLower(getEnv("SOURCE", "ads1115")),
		I2CBus:         getEnv("I2C_BUS", ""),
		I2CAddress:     uint16(getEnvInt("I2C_ADDRESS", 0x48)),
		SimHeartRate:   getEnvFloat("SIM_HEART_RATE", 72),
		SimNoiseMV:     getEnvFloat("SIM_NOISE_MV", 0.02),
		DefaultChannel: getEnvInt("ADC_CHANNEL", 0),
		DefaultGain:    getEnvInt("ADC_GAIN", 1),
		DefaultRate:    getEnvInt("SAMPLE_RATE", 250),
		StreamFilter:   getEnvBool("STREAM_FILTER", true),
		StreamDetect:   getEnvBool("STREAM_DETECT", true),
		HighpassHz:     getEnvFloat("HIGHPASS_HZ", fp.HighpassHz),
		LowpassHz:      getEnvFloat("LOWPASS_HZ", fp.LowpassHz),
		DetectFactor:   getEnvFloat("DETECT_FACTOR", sp.Factor),
		DetectFloorMV:  getEnvFloat("DETECT_FLOOR_MV", sp.FloorMV),
		Refractory:     getEnvDuration("DETECT_REFRACTORY", sp.Refractory),
		EnvelopeWindow: getEnvDuration("DETECT_ENVELOPE", sp.EnvelopeWindow),
		ScorerKind:     strings.ToLower(getEnv("SCORER", "heuristic")),
		Alerts: alert.Thresholds{
			AFMinRR:     getEnvInt("ALERT_AF_MIN_RR", th.AFMinRR),
			AFSDNNMs:    getEnvFloat("ALERT_AF_SDNN_MS", th.AFSDNNMs),
			LongPRMs:    getEnvFloat("ALERT_LONG_PR_MS", th.LongPRMs),
			LongPRCount: getEnvInt("ALERT_LONG_PR_COUNT", th.LongPRCount),
			LowSDNNMs:   getEnvFloat("ALERT_LOW_SDNN_MS", th.LowSDNNMs),
			LowRMSSDMs:  getEnvFloat("ALERT_LOW_RMSSD_MS", th.LowRMSSDMs),
			LowPNN50:    getEnvFloat("ALERT_LOW_PNN50", th.LowPNN50),
			LFHFHigh:    getEnvFloat("ALERT_LFHF_HIGH", th.LFHFHigh),
			LFHFLow:     getEnvFloat("ALERT_LFHF_LOW", th.LFHFLow),
		},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DefaultRate <= 0:
		return fmt.Errorf("config: SAMPLE_RATE must be positive, got %d", c.DefaultRate)
	case c.HighpassHz <= 0 || c.LowpassHz <= 0:
		return fmt.Errorf("config: filter cutoffs must be positive")
	case c.LowpassHz <= c.HighpassHz:
		return fmt.Errorf("config: LOWPASS_HZ %.2f must exceed HIGHPASS_HZ %.2f", c.LowpassHz, c.HighpassHz)
	case c.DetectFactor <= 0:
		return fmt.Errorf("config: DETECT_FACTOR must be positive")
	case c.Refractory < 0 || c.EnvelopeWindow <= 0:
		return fmt.Errorf("config: detector windows must be positive")
	case c.ExportZstd < 0 || c.ExportZstd > 4:
		return fmt.Errorf("config: EXPORT_ZSTD_LEVEL must be 0-4, got %d", c.ExportZstd)
	}
	switch c.SourceKind {
	case "ads1115", "sim":
	default:
		return fmt.Errorf("config: unknown SOURCE %q", c.SourceKind)
	}
	switch c.ScorerKind {
	case "heuristic", "none":
	default:
		return fmt.Errorf("config: unknown SCORER %q", c.ScorerKind)
	}
	return nil
}

func (c *Config) FilterParams() filter.Params {
	return filter.Params{HighpassHz: c.HighpassHz, LowpassHz: c.LowpassHz}
}

func (c *Config) StreamParams() detect.StreamParams {
	return detect.StreamParams{
		Factor:         c.DetectFactor,
		FloorMV:        c.DetectFloorMV,
		EnvelopeWindow: c.EnvelopeWindow,
		Refractory:     c.Refractory,
	}
}

func (c *Config) SessionDefaults() session.Defaults {
	return session.Defaults{
		Channel:      c.DefaultChannel,
		GainIndex:    c.DefaultGain,
		RateHz:       c.DefaultRate,
		Filter:       c.StreamFilter,
		Detect:       c.StreamDetect,
		FilterParams: c.FilterParams(),
		DetectParams: c.StreamParams(),
	}
}

func (c *Config) AnalysisParams() analysis.Params {
	return analysis.Params{
		Detect: detect.DefaultParams(),
		HRV:    hrv.DefaultParams(),
		Alerts: c.Alerts,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return int(n)
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
