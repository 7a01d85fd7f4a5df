package services

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"airwatch/config"
	"airwatch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttQoSTelemetry      byte = 0
	mqttQoSControl        byte = 1
	mqttConnectWait            = 5 * time.Second
	mqttControlTimeout         = 2 * time.Second
	mqttReconnectDelay         = 5 * time.Second
	mqttDisconnectQuiesce      = 250 // milliseconds
)

// MQTTService publishes telemetry to an MQTT broker and receives commands.
type MQTTService struct {
	config  *config.Config
	client  mqtt.Client
	logger  *zap.Logger
	inbox   *inbox
	handler MessageHandler
}

func NewMQTTService(cfg *config.Config, logger *zap.Logger) (*MQTTService, error) {
	s := &MQTTService{
		config: cfg,
		logger: logger,
		inbox:  newInbox(),
	}

	opts, err := buildClientOptions(cfg, s.onConnect, s.onConnectionLost)
	if err != nil {
		return nil, err
	}
	s.client = mqtt.NewClient(opts)
	return s, nil
}

func buildClientOptions(cfg *config.Config, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.DeviceID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(mqttReconnectDelay)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOrderMatters(false)
	opts.SetWill(cfg.TopicStatus, string(statusPayload(cfg.DeviceID, models.StatusOffline)), mqttQoSControl, true)

	if cfg.MQTTCAFile != "" {
		tlsConfig, err := loadRootCA(cfg.MQTTCAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.OnConnect = onConnect
	opts.OnConnectionLost = onLost
	return opts, nil
}

func loadRootCA(path string) (*tls.Config, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Start begins connecting. The client keeps retrying in the background, so a
// broker that is down at startup is not an error.
func (s *MQTTService) Start() error {
	s.logger.Info("Connecting to MQTT broker",
		zap.String("broker", s.config.MQTTBroker),
		zap.String("client_id", s.config.DeviceID),
		zap.Bool("tls", s.config.MQTTCAFile != ""))

	token := s.client.Connect()
	if !token.WaitTimeout(mqttConnectWait) {
		s.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (s *MQTTService) onConnect(client mqtt.Client) {
	s.logger.Info("Connected to MQTT broker", zap.String("broker", s.config.MQTTBroker))

	status := client.Publish(s.config.TopicStatus, mqttQoSControl, true, statusPayload(s.config.DeviceID, models.StatusOnline))
	if status.WaitTimeout(mqttControlTimeout) && status.Error() != nil {
		s.logger.Warn("Failed to publish online status", zap.Error(status.Error()))
	}

	sub := client.Subscribe(s.config.TopicCommands, mqttQoSControl, s.onCommand)
	if !sub.WaitTimeout(mqttControlTimeout) {
		s.logger.Warn("Command subscription not confirmed", zap.String("topic", s.config.TopicCommands))
		return
	}
	if err := sub.Error(); err != nil {
		s.logger.Error("Failed to subscribe to commands", zap.String("topic", s.config.TopicCommands), zap.Error(err))
		return
	}
	s.logger.Info("Subscribed to commands", zap.String("topic", s.config.TopicCommands))
}

func (s *MQTTService) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Error("MQTT connection lost", zap.Error(err))
}

// onCommand runs on a paho goroutine; Service hands the message over.
func (s *MQTTService) onCommand(_ mqtt.Client, msg mqtt.Message) {
	if !s.inbox.push(msg.Topic(), msg.Payload()) {
		s.logger.Warn("Command queue full, dropping message", zap.String("topic", msg.Topic()))
	}
}

func (s *MQTTService) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *MQTTService) Publish(topic string, payload []byte) error {
	if !s.client.IsConnectionOpen() {
		return ErrPublisherOffline
	}
	token := s.client.Publish(topic, mqttQoSTelemetry, false, payload)
	if !token.WaitTimeout(publishWait(s.config)) {
		return errors.New("MQTT publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTService) Service() {
	s.inbox.drain(s.handler)
}

func (s *MQTTService) SetMessageHandler(handler MessageHandler) {
	s.handler = handler
}

// Close publishes the offline status and disconnects.
func (s *MQTTService) Close() error {
	s.logger.Info("Disconnecting from MQTT broker")
	if s.client.IsConnectionOpen() {
		token := s.client.Publish(s.config.TopicStatus, mqttQoSControl, true, statusPayload(s.config.DeviceID, models.StatusOffline))
		token.WaitTimeout(mqttControlTimeout)
	}
	s.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}
