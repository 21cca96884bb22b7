package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestReindexEventRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encodeEvent(" cs101 ", at)
	if err != nil {
		t.Fatalf("encodeEvent() error = %v", err)
	}
	if msg.Header.Get(nats.MsgIdHdr) == "" {
		t.Fatalf("expected a message id header for dedupe")
	}

	ev := decodeEvent(msg.Data)
	if ev.CourseID != "cs101" || !ev.ReindexedAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDecodeEventAcceptsBareCourseID(t *testing.T) {
	if ev := decodeEvent([]byte("cs101\n")); ev.CourseID != "cs101" || !ev.ReindexedAt.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev := decodeEvent(nil); ev.CourseID != "" {
		t.Fatalf("empty payload should mean every course, got %+v", ev)
	}
}
