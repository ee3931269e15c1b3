package queue

import (
    "context"
    "errors"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/config"
    "github.com/iliyamo/lab-device-reservation/internal/service"
)

const (
    publishTimeout = 5 * time.Second
    backlogSize    = 256
)

type outgoing struct {
    msg amqp.Publishing
}

// Publisher implements service.EventSink on top of a durable RabbitMQ
// queue.  Events are queued in memory and published by one goroutine, so
// request handlers never wait on the broker.  When the backlog is full the
// event is dropped with a warning; the database stays the source of truth.
type Publisher struct {
    url   string
    queue string
    log   logrus.FieldLogger

    backlog chan outgoing
    done    chan struct{}
    once    sync.Once

    conn *amqp.Connection
    ch   *amqp.Channel
}

var _ service.EventSink = (*Publisher)(nil)

// NewPublisher starts the publishing goroutine.  The broker is dialled
// lazily on the first event and again after any failure.
func NewPublisher(cfg config.AMQPConfig, log logrus.FieldLogger) *Publisher {
    if log == nil {
        log = logrus.StandardLogger()
    }
    p := &Publisher{
        url:     cfg.URL,
        queue:   cfg.Queue,
        log:     log.WithField("component", "amqp-publisher"),
        backlog: make(chan outgoing, backlogSize),
        done:    make(chan struct{}),
    }
    go p.run()
    return p
}

func (p *Publisher) ReservationCreated(_ context.Context, ev service.ReservationCreated) {
    p.enqueue(TypeReservationCreated, ev, ev.CreatedAt)
}

func (p *Publisher) DeviceStateChanged(_ context.Context, ev service.DeviceStateChanged) {
    p.enqueue(TypeDeviceStateChanged, ev, ev.At)
}

func (p *Publisher) enqueue(kind string, payload any, at time.Time) {
    msg, err := encode(kind, payload, at)
    if err != nil {
        p.log.WithError(err).Error("encode event")
        return
    }
    select {
    case p.backlog <- outgoing{msg: msg}:
    default:
        p.log.WithField("type", kind).Warn("event backlog full; dropping event")
    }
}

// Close stops accepting events, drains what is queued and closes the
// connection.
func (p *Publisher) Close() {
    p.once.Do(func() { close(p.backlog) })
    <-p.done
}

func (p *Publisher) run() {
    defer close(p.done)
    defer p.disconnect()
    for out := range p.backlog {
        if err := p.publish(out.msg); err != nil {
            p.log.WithError(err).WithField("type", out.msg.Type).Warn("publish failed")
            p.disconnect()
        }
    }
}

func (p *Publisher) publish(msg amqp.Publishing) error {
    ch, err := p.channel()
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
    defer cancel()
    return ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        msg,
    )
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.disconnect()
    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(publishTimeout)})
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    // durable so messages survive broker restarts
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, errors.Join(errors.New("queue declare"), err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) disconnect() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}
