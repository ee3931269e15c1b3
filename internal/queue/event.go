// Package queue moves committed domain events through RabbitMQ: the
// Publisher is an event sink for the service layer, and the audit consumer
// turns the stream into an append-only log file.
package queue

import (
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/lab-device-reservation/internal/service"
)

// Message types, carried in the AMQP Type property.
const (
    TypeReservationCreated = "reservation.created"
    TypeDeviceStateChanged = "device.state_changed"
)

// encode wraps an event payload into a persistent JSON publishing with a
// fresh message id.
func encode(kind string, payload any, at time.Time) (amqp.Publishing, error) {
    body, err := json.Marshal(payload)
    if err != nil {
        return amqp.Publishing{}, fmt.Errorf("marshal %s: %w", kind, err)
    }
    return amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    uuid.NewString(),
        Type:         kind,
        Timestamp:    at.UTC(),
        Body:         body,
    }, nil
}

// auditLine renders one delivery as a single log line.  Unknown types and
// malformed bodies are errors so the consumer can reject them.
func auditLine(kind string, body []byte) (string, error) {
    switch kind {
    case TypeReservationCreated:
        var ev service.ReservationCreated
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal %s: %w", kind, err)
        }
        return fmt.Sprintf("[%s] Reservation created | reservation_id=%d | device=%s | name=%q | organization=%q | email=%q | ends_at=%s\n",
            ev.CreatedAt.UTC().Format(time.RFC3339), ev.ReservationID, ev.Device, ev.Name, ev.Organization, ev.Email,
            ev.EndsAt.UTC().Format(time.RFC3339)), nil
    case TypeDeviceStateChanged:
        var ev service.DeviceStateChanged
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal %s: %w", kind, err)
        }
        return fmt.Sprintf("[%s] Device state changed | device=%s | state=%q | source=%s\n",
            ev.At.UTC().Format(time.RFC3339), ev.Device, ev.Current.String(), ev.Source), nil
    }
    return "", fmt.Errorf("unknown message type %q", kind)
}
