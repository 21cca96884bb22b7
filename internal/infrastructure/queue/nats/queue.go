package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/resilience"
)

// Queue carries corpus reindex notifications. An empty course id means
// every course changed.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// QueueGroup, when set, load-balances notifications across subscribers.
	// API replicas each hold their own caches and leave it empty.
	QueueGroup         string
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("adaptive-retrieval"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    strings.TrimSpace(options.QueueGroup),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// reindexEvent is the message body. Subscribers also accept a bare course id
// so events can be sent by hand with the nats CLI.
type reindexEvent struct {
	CourseID    string    `json:"course_id"`
	ReindexedAt time.Time `json:"reindexed_at"`
}

func encodeEvent(courseID string, at time.Time) (*nats.Msg, error) {
	body, err := json.Marshal(reindexEvent{CourseID: strings.TrimSpace(courseID), ReindexedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode reindex event: %w", err)
	}
	msg := nats.NewMsg("")
	msg.Data = body
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	return msg, nil
}

func decodeEvent(data []byte) reindexEvent {
	var ev reindexEvent
	if err := json.Unmarshal(data, &ev); err == nil {
		ev.CourseID = strings.TrimSpace(ev.CourseID)
		return ev
	}
	return reindexEvent{CourseID: strings.TrimSpace(string(data))}
}

func (q *Queue) PublishCorpusReindexed(ctx context.Context, courseID string) error {
	msg, err := encodeEvent(courseID, time.Now())
	if err != nil {
		return err
	}
	msg.Subject = q.subject

	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// SubscribeCorpusReindexed blocks until ctx is done, then drains the
// subscription.
func (q *Queue) SubscribeCorpusReindexed(ctx context.Context, handler func(context.Context, string) error) error {
	onMsg := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ev := decodeEvent(msg.Data)
		if !ev.ReindexedAt.IsZero() {
			q.logger.Debug("reindex_event_received", "course_id", ev.CourseID, "lag_ms", time.Since(ev.ReindexedAt).Milliseconds())
		}
		if err := handler(handlerCtx, ev.CourseID); err != nil {
			q.logger.Error("reindex_handler_failed", "course_id", ev.CourseID, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if q.group != "" {
		sub, err = q.conn.QueueSubscribe(q.subject, q.group, onMsg)
	} else {
		sub, err = q.conn.Subscribe(q.subject, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
