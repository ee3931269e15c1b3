package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/config"
    "github.com/iliyamo/lab-device-reservation/internal/service"
)

// captureWriter tees the response body into buf, up to limit bytes, while
// forwarding everything to the client.  overflow is set once the body
// exceeds the limit; such responses are not cached.
type captureWriter struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int64
    overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
    cw.status = code
    cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.overflow {
        if cw.limit > 0 && int64(cw.buf.Len()+len(b)) > cw.limit {
            cw.overflow = true
            cw.buf.Reset()
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// cacheStore is the part of *redis.Client the cache needs.
type cacheStore interface {
    Get(ctx context.Context, key string) *redis.StringCmd
    SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
    Incr(ctx context.Context, key string) *redis.IntCmd
}

// generationKey holds the counter bumped on every reservation.  Entries
// are keyed by the generation current when the request started, so a
// body computed before a booking can only land under a key nobody reads
// any more.
func generationKey(prefix string) string { return prefix + ":gen" }

// generation returns the current counter; a missing key is generation 0.
func generation(ctx context.Context, rdb cacheStore, prefix string) (int64, error) {
    gen, err := rdb.Get(ctx, generationKey(prefix)).Int64()
    if errors.Is(err, redis.Nil) {
        return 0, nil
    }
    return gen, err
}

// cacheKeyFrom builds a stable key honoring prefix, generation and
// strategy.  The variable part is hashed so arbitrary query strings stay
// short.
func cacheKeyFrom(cfg config.CacheConfig, gen int64, c echo.Context) string {
    r := c.Request()
    route := c.Path()
    query := r.URL.Query().Encode() // sorted, so ?a=1&b=2 and ?b=2&a=1 share an entry

    var parts []string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        parts = []string{"route", route}
    case "method_route":
        parts = []string{"method", r.Method, "route", route}
    case "method_route_query":
        parts = []string{"method", r.Method, "route", route, "q", query}
    default: // route_query
        parts = []string{"route", route, "q", query}
    }
    sum := sha1.Sum([]byte(strings.Join(parts, ":")))
    return fmt.Sprintf("%s:g%d:%x", cfg.Prefix, gen, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, header, bs[8+hlen:], true
}

// NewRedisCache serves repeated GETs of the statistics endpoint from
// Redis.  Only 200 responses within MaxBodyBytes are stored, headers
// included, so a hit is byte-identical to the original.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return newCache(cfg, rdb)
}

func newCache(cfg config.CacheConfig, rdb cacheStore) echo.MiddlewareFunc {
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 30 * time.Second
    }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            ctx := c.Request().Context()
            gen, err := generation(ctx, rdb, cfg.Prefix)
            if err != nil {
                return next(c)
            }
            key := cacheKeyFrom(cfg, gen, c)

            if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        // Echo recomputes these
                        if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, echo.HeaderXRequestID) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.overflow {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
                _ = rdb.SetEx(context.WithoutCancel(ctx), key, payload, ttl).Err()
            }
            return nil
        }
    }
}

// CacheInvalidator retires every cached response when a reservation
// commits by bumping the generation counter.  Old entries are never read
// again and expire with their TTL.
type CacheInvalidator struct {
    prefix string
    rdb    cacheStore
    log    logrus.FieldLogger
}

var _ service.EventSink = (*CacheInvalidator)(nil)

// NewCacheInvalidator returns nil when caching is off; callers skip it.
func NewCacheInvalidator(cfg config.CacheConfig, rdb *redis.Client, log logrus.FieldLogger) *CacheInvalidator {
    if !cfg.Enabled || rdb == nil {
        return nil
    }
    return newCacheInvalidator(cfg.Prefix, rdb, log)
}

func newCacheInvalidator(prefix string, rdb cacheStore, log logrus.FieldLogger) *CacheInvalidator {
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &CacheInvalidator{prefix: prefix, rdb: rdb, log: log.WithField("component", "cache")}
}

// ReservationCreated runs before Reserve returns, so the booking client's
// next statistics read already misses.
func (ci *CacheInvalidator) ReservationCreated(ctx context.Context, _ service.ReservationCreated) {
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
    defer cancel()
    if err := ci.rdb.Incr(ctx, generationKey(ci.prefix)).Err(); err != nil {
        ci.log.WithError(err).Warn("cache invalidation failed")
    }
}

func (ci *CacheInvalidator) DeviceStateChanged(context.Context, service.DeviceStateChanged) {}
