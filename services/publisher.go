package services

import (
	"encoding/json"
	"errors"
	"time"

	"airwatch/config"
	"airwatch/models"
)

// MessageHandler receives inbound messages. Publishers invoke it only from
// Service, on the caller's goroutine.
type MessageHandler func(topic string, payload []byte)

// Publisher is the telemetry uplink.
type Publisher interface {
	Start() error
	IsConnected() bool
	Publish(topic string, payload []byte) error
	// Service drives protocol housekeeping and delivers queued inbound
	// messages to the registered handler. It must not block.
	Service()
	SetMessageHandler(handler MessageHandler)
	Close() error
}

var (
	ErrPublisherOffline = errors.New("publisher not connected")
	ErrPayloadTooLarge  = errors.New("telemetry payload exceeds size limit")
)

// maxPublishWait caps how long Publish may hold up a tick.
const maxPublishWait = time.Second

// publishWait is the longest a Publish call may block: the frame timeout,
// never more than maxPublishWait.
func publishWait(cfg *config.Config) time.Duration {
	if cfg.FrameTimeout > 0 && cfg.FrameTimeout < maxPublishWait {
		return cfg.FrameTimeout
	}
	return maxPublishWait
}

// inboundQueueSize bounds messages buffered between Service calls.
const inboundQueueSize = 16

type inboundMessage struct {
	topic   string
	payload []byte
}

// inbox hands messages from transport goroutines to Service.
type inbox struct {
	ch chan inboundMessage
}

func newInbox() *inbox {
	return &inbox{ch: make(chan inboundMessage, inboundQueueSize)}
}

// push enqueues without blocking and reports whether the message was kept.
func (b *inbox) push(topic string, payload []byte) bool {
	select {
	case b.ch <- inboundMessage{topic: topic, payload: payload}:
		return true
	default:
		return false
	}
}

// drain delivers everything queued so far to handler.
func (b *inbox) drain(handler MessageHandler) {
	for {
		select {
		case msg := <-b.ch:
			if handler != nil {
				handler(msg.topic, msg.payload)
			}
		default:
			return
		}
	}
}

func statusPayload(deviceID, status string) []byte {
	payload, _ := json.Marshal(models.DeviceStatus{DeviceID: deviceID, Status: status})
	return payload
}
