// Package metrics records lab usage in InfluxDB v2.  Writes go through the
// client's non-blocking batched write API, so recording never waits on the
// network.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/config"
	"github.com/iliyamo/lab-device-reservation/internal/service"
)

const defaultPingTimeout = 5 * time.Second

// ErrDisabled is returned by Connect when INFLUX_ENABLED is off.
var ErrDisabled = errors.New("influxdb: disabled")

// Measurement names.
const (
	MeasurementReservation = "reservation"
	MeasurementDeviceState = "device_state"
)

// PointWriter is the slice of api.WriteAPI the recorder uses.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder is a service.EventSink that turns events into points.
type Recorder struct {
	writer PointWriter
	client influxdb2.Client
	api    api.WriteAPI
}

var _ service.EventSink = (*Recorder)(nil)

// Connect pings the server and returns a recorder writing to cfg.Bucket.
// Asynchronous write errors are logged.
func Connect(cfg config.InfluxConfig, log logrus.FieldLogger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb: server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.WithError(err).Warn("influxdb write failed")
		}
	}()
	return &Recorder{writer: writeAPI, client: client, api: writeAPI}, nil
}

// NewRecorder wraps an arbitrary writer.  Tests use it.
func NewRecorder(w PointWriter) *Recorder { return &Recorder{writer: w} }

// Close flushes pending points and releases the client.
func (r *Recorder) Close() {
	if r.api != nil {
		r.api.Flush()
	}
	if r.client != nil {
		r.client.Close()
	}
}

func (r *Recorder) ReservationCreated(_ context.Context, ev service.ReservationCreated) {
	r.writer.WritePoint(write.NewPoint(
		MeasurementReservation,
		map[string]string{"device": ev.Device, "organization": ev.Organization},
		map[string]interface{}{"count": 1, "reservation_id": int64(ev.ReservationID)},
		ev.CreatedAt,
	))
}

func (r *Recorder) DeviceStateChanged(_ context.Context, ev service.DeviceStateChanged) {
	r.writer.WritePoint(write.NewPoint(
		MeasurementDeviceState,
		map[string]string{"device": ev.Device, "source": ev.Source},
		map[string]interface{}{"state": ev.Current.String(), "code": int(ev.Current)},
		ev.At,
	))
}
