package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecg-monitor/internal/config"
	"ecg-monitor/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// SessionManager starts and stops per-device sampling sessions.
type SessionManager interface {
	Start(req models.SessionStartPayload) (models.SamplingSession, error)
	Stop(ctx context.Context, deviceID string) error
}

// SessionController turns control-topic messages into session transitions.
type SessionController struct {
	sessions    SessionManager
	stopTimeout time.Duration
	log         *zap.Logger
}

func NewSessionController(sessions SessionManager, stopTimeout time.Duration, logger *zap.Logger) *SessionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &SessionController{sessions: sessions, stopTimeout: stopTimeout, log: logger}
}

func (c *SessionController) HandleStartMessage(payload []byte) {
	var req models.SessionStartPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.log.Error("Error unmarshalling session start", zap.Error(err))
		return
	}
	if req.DeviceID == "" {
		c.log.Warn("Session start without deviceId ignored")
		return
	}
	info, err := c.sessions.Start(req)
	if err != nil {
		c.log.Error("Failed to start session", zap.String("deviceId", req.DeviceID), zap.Error(err))
		return
	}
	c.log.Info("Session started",
		zap.String("sessionId", info.SessionID),
		zap.String("deviceId", info.DeviceID),
		zap.String("patientId", info.PatientID),
		zap.Int("rateHz", info.RateHz))
}

func (c *SessionController) HandleStopMessage(payload []byte) {
	var req models.SessionStopPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.log.Error("Error unmarshalling session stop", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()
	if err := c.sessions.Stop(ctx, req.DeviceID); err != nil {
		c.log.Warn("Failed to stop session", zap.String("deviceId", req.DeviceID), zap.Error(err))
		return
	}
	c.log.Info("Session stopped", zap.String("deviceId", req.DeviceID))
}

func NewMessageHandler(cfg *config.Config, ctrl *SessionController, logger *zap.Logger) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		logger.Debug("Received message", zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()))

		switch msg.Topic() {
		case cfg.StartTopic:
			ctrl.HandleStartMessage(msg.Payload())
		case cfg.StopTopic:
			ctrl.HandleStopMessage(msg.Payload())
		default:
			logger.Warn("Unknown topic", zap.String("topic", msg.Topic()))
		}
	}
}

func InitializeMQTT(cfg *config.Config, ctrl *SessionController, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(NewMessageHandler(cfg, ctrl, logger))
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		subscribeToTopics(client, []string{cfg.StartTopic, cfg.StopTopic}, logger)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("Connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func subscribeToTopics(client mqtt.Client, topics []string, logger *zap.Logger) {
	for _, topic := range topics {
		token := client.Subscribe(topic, 1, nil)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("Subscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		logger.Info("Subscribed to topic", zap.String("topic", topic))
	}
}

// Publisher is the part of mqtt.Client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

var ErrPublishTimeout = errors.New("mqtt: publish timed out")

// MQTTNotifier publishes one JSON message per alert on
// <topic>/<patientId>.
type MQTTNotifier struct {
	client  Publisher
	topic   string
	timeout time.Duration
}

func NewMQTTNotifier(client Publisher, topic string, timeout time.Duration) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topic, timeout: timeout}
}

func (n *MQTTNotifier) NotifyAlert(a models.AlertNotification) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	topic := n.topic
	if a.PatientID != "" {
		topic += "/" + a.PatientID
	}
	token := n.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(n.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}
