// Package mqtt connects the device registry to the lab's MQTT agent bus.
// Agents report their state on a status topic; the server republishes
// every committed change as a retained state message.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/config"
	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/service"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	handlerTimeout           = 5 * time.Second
)

// ErrConnectionFailed is returned when the initial connection attempt fails.
var ErrConnectionFailed = errors.New("mqtt: connection failed")

// StateWriter is the registry operation the bus drives.
type StateWriter interface {
	SetState(ctx context.Context, id string, state model.DeviceState, source string) (model.DeviceState, bool, error)
}

// Bus is the server side of the agent bus.  It is also a
// service.EventSink so committed changes reach the agents.
type Bus struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	writer StateWriter
	log    logrus.FieldLogger
}

var _ service.EventSink = (*Bus)(nil)

// NewBus prepares a bus.  Nothing is dialled until Connect.
func NewBus(cfg config.MQTTConfig, log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		log:    log.WithField("component", "mqtt"),
	}
}

// Connect dials the broker and subscribes to agent status reports, which
// are written through w.  Subscriptions are restored on every reconnect.
func (b *Bus) Connect(w StateWriter) error {
	b.writer = w
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetWill(b.topics.SystemStatus(), `{"status":"offline","reason":"unexpected_disconnect"}`, 1, true)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Subscribe(b.topics.StatusWildcard(), b.cfg.QoS, b.onMessage)
		c.Publish(b.topics.SystemStatus(), b.cfg.QoS, true, `{"status":"online"}`)
		b.log.WithField("broker", b.cfg.Broker).Info("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.log.WithError(err).Warn("mqtt connection lost")
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, b.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Close announces a graceful shutdown and disconnects.
func (b *Bus) Close() {
	if b.client == nil {
		return
	}
	if b.client.IsConnected() {
		t := b.client.Publish(b.topics.SystemStatus(), b.cfg.QoS, true, `{"status":"offline","reason":"graceful_shutdown"}`)
		t.WaitTimeout(defaultPublishTimeout)
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
}

func (b *Bus) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{"topic": msg.Topic(), "panic": r}).Error("mqtt handler panic recovered")
		}
	}()
	if err := b.handleStatus(msg.Topic(), msg.Payload()); err != nil {
		b.log.WithError(err).WithField("topic", msg.Topic()).Warn("ignored agent status report")
	}
}

// handleStatus applies one agent report to the registry.
func (b *Bus) handleStatus(topic string, payload []byte) error {
	device, ok := b.topics.DeviceFromStatus(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	state, err := parseStatusPayload(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	_, _, err = b.writer.SetState(ctx, device, state, service.SourceAgentBus)
	return err
}

func (b *Bus) ReservationCreated(context.Context, service.ReservationCreated) {}

// DeviceStateChanged publishes the new state retained, so an agent that
// subscribes later still sees it.
func (b *Bus) DeviceStateChanged(_ context.Context, ev service.DeviceStateChanged) {
	if b.client == nil {
		return
	}
	body, err := json.Marshal(stateMessage{
		Device: ev.Device,
		State:  ev.Current,
		Source: ev.Source,
		At:     ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		b.log.WithError(err).Error("encode state message")
		return
	}
	token := b.client.Publish(b.topics.State(ev.Device), b.cfg.QoS, true, body)
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			b.log.WithField("device", ev.Device).Warn("state publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			b.log.WithError(err).WithField("device", ev.Device).Warn("state publish failed")
		}
	}()
}
