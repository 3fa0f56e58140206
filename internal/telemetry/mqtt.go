// Package telemetry publishes rconctl events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/util"
)

// MQTT topics
const (
	TopicConnection = "rcon/connection"
	TopicCommand    = "rcon/command"
	TopicHost       = "rcon/host"
	TopicAdmin      = "rcon/admin"
)

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to MQTT.
type MQTTHandler struct {
	mqttCfg  config.MQTTConfig
	bus      *events.Bus
	client   mqtt.Client
	pub      publisher
	metadata map[string]any
}

// NewMQTTHandler builds a handler for the configured broker. It does not
// connect until Start.
func NewMQTTHandler(cfg *config.Config, bus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		mqttCfg:  mqttCfg,
		bus:      bus,
		metadata: hostMetadata(sysInfo),
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))
	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconctl-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("component", "telemetry").Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Str("component", "telemetry").Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client
	return h, nil
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func hostMetadata(info util.SystemInfo) map[string]any {
	return map[string]any{
		"hostname":     info.Hostname,
		"os":           info.OS,
		"architecture": info.Architecture,
		"cpu_model":    info.CPUModel,
		"cpu_cores":    info.CPUCores,
		"memory_mb":    info.TotalMemory,
	}
}

// Start connects, subscribes to the bus and blocks until ctx ends.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.mqttCfg.BrokerURL).
		Int("port", h.mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicAdmin, map[string]any{"event": "startup"})

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for _, t := range []events.EventType{
		events.EventConnected, events.EventDisconnected,
		events.EventAuthenticated, events.EventAuthFailed,
	} {
		h.bus.Subscribe(t, "mqtt.connection", h.onConnection)
	}
	h.bus.Subscribe(events.EventCommandExecuted, "mqtt.command", h.onCommand)
	h.bus.Subscribe(events.EventCommandFailed, "mqtt.command", h.onCommand)
	h.bus.Subscribe(events.EventHostMetrics, "mqtt.host", h.onHostMetrics)
}

// publish sends payload, wrapped with host metadata, as JSON.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.pub.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload any) map[string]any {
	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onConnection(ctx context.Context, event events.Event) error {
	p, _ := event.Payload.(events.ConnectionPayload)
	h.publish(TopicConnection, map[string]any{
		"event":   string(event.Type),
		"server":  event.Source,
		"address": p.Address,
		"error":   p.Error,
	})
	return nil
}

// onCommand publishes command metadata; response bodies stay local.
func (h *MQTTHandler) onCommand(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.CommandPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	h.publish(TopicCommand, map[string]any{
		"event":        string(event.Type),
		"request_id":   p.RequestID,
		"server":       p.Server,
		"command":      p.Command,
		"multi_packet": p.MultiPacket,
		"response_len": len(p.Response),
		"error":        p.Error,
		"duration_ms":  p.Duration.Milliseconds(),
	})
	return nil
}

func (h *MQTTHandler) onHostMetrics(ctx context.Context, event events.Event) error {
	h.publish(TopicHost, event.Payload)
	return nil
}

// PublishShutdown announces shutdown on the admin topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]any{"event": "shutdown"})
}
