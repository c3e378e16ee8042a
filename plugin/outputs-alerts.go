package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	Mt "github.com/maroda/blinkwise/types"
)

const publishTimeout = 5 * time.Second

// ErrMQTTConnectTimeout is returned when the broker never answers the connect
var ErrMQTTConnectTimeout = errors.New("timed out connecting to MQTT broker")

// LogAlertSink writes alerts to the structured log
type LogAlertSink struct{}

func (LogAlertSink) Notify(alert Mt.Alert) error {
	slog.Warn("Blink rate alert",
		slog.String("device", alert.DeviceID),
		slog.String("classification", string(alert.Classification)),
		slog.Float64("rate", alert.Rate),
		slog.String("message", alert.Message))
	return nil
}

func (LogAlertSink) Type() string { return "log" }

// MQTTAlertSink publishes alerts as JSON to a broker topic.
// Publish is asynchronous, delivery errors are only logged.
type MQTTAlertSink struct {
	Client mqtt.Client
	Topic  string
	QoS    byte
}

// NewMQTTAlertSink connects to broker and returns a ready sink
func NewMQTTAlertSink(broker, clientID, topic string) (*MQTTAlertSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	sink, err := ConnectMQTTAlertSink(mqtt.NewClient(opts), topic)
	if err != nil {
		return nil, err
	}

	slog.Info("MQTT alert sink connected",
		slog.String("broker", broker),
		slog.String("topic", topic))
	return sink, nil
}

// ConnectMQTTAlertSink connects client and wraps it in a sink.
// A connect that does not finish within the timeout is an error.
func ConnectMQTTAlertSink(client mqtt.Client, topic string) (*MQTTAlertSink, error) {
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, ErrMQTTConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return &MQTTAlertSink{Client: client, Topic: topic, QoS: 1}, nil
}

func (ms *MQTTAlertSink) Notify(alert Mt.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	token := ms.Client.Publish(ms.Topic, ms.QoS, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			slog.Warn("MQTT alert publish timed out", slog.String("topic", ms.Topic))
			return
		}
		if err := token.Error(); err != nil {
			slog.Error("MQTT alert publish failed",
				slog.String("topic", ms.Topic),
				slog.Any("error", err))
		}
	}()
	return nil
}

func (ms *MQTTAlertSink) Type() string { return "mqtt" }

// Close disconnects, waiting briefly for in-flight publishes
func (ms *MQTTAlertSink) Close() error {
	ms.Client.Disconnect(250)
	return nil
}
