package session

import (
	"context"
	"sync"
	"time"

	"github.com/chatp2p/chatp2p/internal/wire"
	"github.com/google/uuid"
)

// KeepaliveWorker drives the PING/PONG loop on an initiator session: one worker
// enqueues a PING, sleeps, and checks whether it was answered, closing the
// session after max_ping_failures consecutive misses. Grounded on
// original_source/keep_alive.py's KeepAlive class, adapted from Python
// threading primitives to a context-cancellable goroutine.
type KeepaliveWorker struct {
	sender          func(wire.Message) error
	onFailureLimit  func()
	pingInterval    time.Duration
	maxPingFailures int

	mu       sync.Mutex
	pending  map[string]time.Time
	failures int
	rtts     []float64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

const maxRTTSamples = 10

// NewKeepalive builds a keepalive worker. sender enqueues msg onto the
// owning session; onFailureLimit is invoked (by the keepalive's own
// goroutine) once max_ping_failures consecutive pings go unanswered.
func NewKeepalive(sender func(wire.Message) error, onFailureLimit func(), pingInterval time.Duration, maxPingFailures int) *KeepaliveWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &KeepaliveWorker{
		sender:          sender,
		onFailureLimit:  onFailureLimit,
		pingInterval:    pingInterval,
		maxPingFailures: maxPingFailures,
		pending:         make(map[string]time.Time),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Start begins the ping loop in its own goroutine.
func (k *KeepaliveWorker) Start() {
	go k.loop()
}

// Stop cancels the loop and waits for it to exit.
func (k *KeepaliveWorker) Stop() {
	k.once.Do(func() {
		k.cancel()
	})
	<-k.done
}

func (k *KeepaliveWorker) loop() {
	defer close(k.done)

	for {
		msgID := uuid.NewString()

		k.mu.Lock()
		k.pending[msgID] = time.Now()
		k.mu.Unlock()

		_ = k.sender(wire.Message{
			Type:      wire.TypePing,
			TTL:       wire.WireTTL,
			MsgID:     msgID,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})

		select {
		case <-k.ctx.Done():
			return
		case <-time.After(k.pingInterval):
		}

		k.mu.Lock()
		_, stillPending := k.pending[msgID]
		if stillPending {
			delete(k.pending, msgID)
			k.failures++
		}
		limitReached := k.failures >= k.maxPingFailures
		k.mu.Unlock()

		if limitReached {
			k.onFailureLimit()
			return
		}
	}
}

// HandlePong records a round-trip sample for msg, clearing the pending
// entry and resetting the consecutive-failure counter.
func (k *KeepaliveWorker) HandlePong(msg wire.Message) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sentAt, ok := k.pending[msg.MsgID]
	if !ok {
		return
	}
	delete(k.pending, msg.MsgID)
	k.failures = 0

	rttMs := float64(time.Since(sentAt).Microseconds()) / 1000.0
	k.rtts = append(k.rtts, rttMs)
	if len(k.rtts) > maxRTTSamples {
		k.rtts = k.rtts[1:]
	}
}

// MeanRTT returns the mean of the last up to 10 RTT samples, and false if
// no sample has been recorded yet.
func (k *KeepaliveWorker) MeanRTT() (float64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.rtts) == 0 {
		return 0, false
	}
	var sum float64
	for _, r := range k.rtts {
		sum += r
	}
	return sum / float64(len(k.rtts)), true
}

// SampleCount returns the number of RTT samples currently held.
func (k *KeepaliveWorker) SampleCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.rtts)
}
