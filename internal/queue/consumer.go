package queue

import (
    "context"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/config"
)

// DefaultAuditLog is where the audit consumer appends by default.
const DefaultAuditLog = "logs/reservations.log"

// AuditConsumer appends every event on the queue to a log file, one line
// per event.
type AuditConsumer struct {
    cfg  config.AMQPConfig
    path string
    log  logrus.FieldLogger
    mu   sync.Mutex
}

// NewAuditConsumer returns a consumer writing to path (DefaultAuditLog
// when empty).
func NewAuditConsumer(cfg config.AMQPConfig, path string, log logrus.FieldLogger) *AuditConsumer {
    if path == "" {
        path = DefaultAuditLog
    }
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &AuditConsumer{cfg: cfg, path: path, log: log.WithField("component", "audit-consumer")}
}

// Run connects, declares the durable queue and consumes until ctx is
// done, reconnecting with exponential backoff.  Malformed messages are
// rejected without requeue so they cannot loop.
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.cfg.URL)
        if err != nil {
            c.log.WithError(err).WithField("retry_in", backoff.String()).Warn("failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.WithError(err).Warn("consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.WithError(err).Warn("set QoS failed")
    }
    if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handle(d.Type, d.Body); err != nil {
                c.log.WithError(err).WithField("message_id", d.MessageId).Warn("handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *AuditConsumer) handle(kind string, body []byte) error {
    line, err := auditLine(kind, body)
    if err != nil {
        return err
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

// StartAuditConsumer runs an AuditConsumer in the background until ctx is
// done.
func StartAuditConsumer(ctx context.Context, cfg config.AMQPConfig, path string, log logrus.FieldLogger) {
    c := NewAuditConsumer(cfg, path, log)
    go func() {
        if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
            c.log.WithError(err).Warn("audit consumer stopped")
        }
    }()
}
