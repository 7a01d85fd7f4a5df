package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"airwatch/config"
	"airwatch/models"

	"go.uber.org/zap/zaptest"
)

func TestPublishWait(t *testing.T) {
	tests := []struct {
		name         string
		frameTimeout time.Duration
		want         time.Duration
	}{
		{name: "follows a short frame timeout", frameTimeout: 200 * time.Millisecond, want: 200 * time.Millisecond},
		{name: "capped", frameTimeout: 5 * time.Second, want: maxPublishWait},
		{name: "unset", frameTimeout: 0, want: maxPublishWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publishWait(&config.Config{FrameTimeout: tt.frameTimeout}); got != tt.want {
				t.Errorf("publishWait() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInbox_DropsWhenFull(t *testing.T) {
	b := newInbox()
	for i := 0; i < inboundQueueSize; i++ {
		if !b.push("t", []byte{byte(i)}) {
			t.Fatalf("push %d rejected below capacity", i)
		}
	}
	if b.push("t", []byte("extra")) {
		t.Fatalf("push accepted beyond capacity")
	}

	var got []byte
	b.drain(func(_ string, payload []byte) { got = append(got, payload...) })
	if len(got) != inboundQueueSize || got[0] != 0 || got[inboundQueueSize-1] != inboundQueueSize-1 {
		t.Errorf("drained %v", got)
	}
}

// stallingStore never completes a write before its deadline.
type stallingStore struct {
	*memoryStore
}

func (s stallingStore) Set(ctx context.Context, _ string, _ interface{}) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestrator_StalledPublishBoundedByFrameTimeout(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.FrameTimeout = 100 * time.Millisecond })
	fs := newFirebaseService(h.cfg, stallingStore{newMemoryStore()}, zaptest.NewLogger(t))
	fs.connected.Store(true)
	fs.SetMessageHandler(h.orch.handleMessage)
	h.orch.publisher = fs
	h.connect()

	h.source.push(EncodeFrame(models.Reading{PM25: 15}))
	start := time.Now()
	h.tick(5 * time.Second)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("tick with a stalled publish took %v, want about the 100ms frame timeout", elapsed)
	}
	if lastOf(h.display.statuses) != MsgSendFailed {
		t.Errorf("statuses = %v, want %q", h.display.statuses, MsgSendFailed)
	}
	if fs.IsConnected() {
		t.Errorf("publisher still reports connected after a timed out write")
	}
}

func TestFirebaseService_PublishReturnsDeadlineError(t *testing.T) {
	cfg := &config.Config{DeviceID: "RPI_PM25_0001", FrameTimeout: 50 * time.Millisecond}
	fs := newFirebaseService(cfg, stallingStore{newMemoryStore()}, zaptest.NewLogger(t))

	err := fs.Publish("smartpm25.sensor.data", []byte(`{}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}
