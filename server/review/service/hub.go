package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "review_server/server/common/log"
	"review_server/server/review/domain"
)

const (
	reviewEventsChannel = "review:events"
	hubQueueSize        = 1024

	resubscribeMinBackoff = 100 * time.Millisecond
	resubscribeMaxBackoff = 2 * time.Second

	scopeFile   = "file"
	scopeGlobal = "global"
)

// Subscriber is one live viewer connection. Deliver must not block; it
// reports false when the payload could not be queued.
type Subscriber interface {
	ID() string
	Deliver(payload []byte) bool
}

// Hub fans events out to connected viewers. A single goroutine started by Run
// owns the registry and performs every dispatch, so events for one file reach
// each viewer in publish order.
type Hub struct {
	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once
	registry *registry

	mu        sync.RWMutex
	redis     *redis.Client
	redisSub  *redis.PubSub
	subCancel context.CancelFunc
	// redisLive is set while the subscription is confirmed. Publishing goes
	// through Redis only then; otherwise events are dispatched locally.
	redisLive atomic.Bool
}

type hubEvent struct {
	Scope   string          `json:"scope"`
	FileID  string          `json:"file_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub() *Hub {
	return &Hub{
		ops:      make(chan func(), hubQueueSize),
		done:     make(chan struct{}),
		registry: newRegistry(),
	}
}

// Run processes registry changes and dispatches until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	commonlog.Infof("event=review_hub action=run status=started")
	for {
		select {
		case <-ctx.Done():
			commonlog.Infof("event=review_hub action=run status=stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

// StartRedisSubscriber feeds events published by any instance into this hub.
// It returns once the subscription is confirmed.
func (h *Hub) StartRedisSubscriber(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, reviewEventsChannel)
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		h.mu.Unlock()
		return err
	}
	h.redisSub = sub
	h.subCancel = cancel
	h.redisLive.Store(true)
	h.mu.Unlock()

	go h.consumeEvents(subCtx, sub)
	return nil
}

func (h *Hub) StopRedisSubscriber() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redisLive.Store(false)
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

// Attach registers a connection for global events.
func (h *Hub) Attach(sub Subscriber) error {
	return h.call(func() { h.registry.attach(sub) })
}

// Join moves sub into fileID's group. Events published after Join returns
// are delivered to sub.
func (h *Hub) Join(sub Subscriber, fileID string) error {
	return h.call(func() {
		h.registry.attach(sub)
		if h.registry.join(sub, fileID) {
			commonlog.Debugf("event=review_hub action=join status=ok subscriber_id=%s file_id=%s", sub.ID(), fileID)
		}
	})
}

func (h *Hub) Leave(sub Subscriber) error {
	return h.call(func() {
		if fileID := h.registry.leave(sub); fileID != "" {
			commonlog.Debugf("event=review_hub action=leave status=ok subscriber_id=%s file_id=%s", sub.ID(), fileID)
		}
	})
}

// Detach forgets sub entirely, leaving its file group.
func (h *Hub) Detach(sub Subscriber) error {
	return h.call(func() { h.registry.detach(sub) })
}

// FileOf reports the file sub is currently viewing.
func (h *Hub) FileOf(sub Subscriber) (string, bool) {
	var (
		fileID string
		ok     bool
	)
	if err := h.call(func() { fileID, ok = h.registry.fileOf(sub) }); err != nil {
		return "", false
	}
	return fileID, ok
}

// MemberCount returns how many connections are viewing fileID.
func (h *Hub) MemberCount(fileID string) int {
	count := 0
	_ = h.call(func() { count = len(h.registry.membersOf(fileID)) })
	return count
}

func (h *Hub) PublishToFile(fileID string, event domain.Event) {
	h.publish(scopeFile, fileID, event)
}

func (h *Hub) PublishGlobal(event domain.Event) {
	h.publish(scopeGlobal, "", event)
}

func (h *Hub) publish(scope, fileID string, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		commonlog.Errorf("event=review_hub action=encode status=failed type=%s file_id=%s error=%v", event.Type, fileID, err)
		return
	}
	if h.publishRedis(scope, fileID, payload) {
		return
	}
	if err := h.enqueue(func() { h.dispatch(scope, fileID, payload) }); err != nil {
		commonlog.Warnf("event=review_hub action=fallback_dispatch status=failed scope=%s file_id=%s error=%v", scope, fileID, err)
	}
}

func (h *Hub) publishRedis(scope, fileID string, payload []byte) bool {
	h.mu.RLock()
	redisClient := h.redis
	h.mu.RUnlock()
	if redisClient == nil || !h.redisLive.Load() {
		return false
	}
	b, err := json.Marshal(hubEvent{Scope: scope, FileID: fileID, Payload: payload})
	if err != nil {
		commonlog.Errorf("event=review_hub action=publish status=failed scope=%s file_id=%s error=%v", scope, fileID, err)
		return false
	}
	if err := redisClient.Publish(context.Background(), reviewEventsChannel, b).Err(); err != nil {
		commonlog.Warnf("event=review_hub action=publish status=failed scope=%s file_id=%s error=%v", scope, fileID, err)
		return false
	}
	commonlog.Debugf("event=review_hub action=publish status=ok scope=%s file_id=%s", scope, fileID)
	return true
}

// consumeEvents reads the subscription until ctx is cancelled. Receive
// errors mark the subscription down and are retried with backoff; go-redis
// reconnects and resubscribes on the next Receive.
func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	backoff := resubscribeMinBackoff
	for {
		received, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if h.redisLive.Swap(false) {
				commonlog.Warnf("event=review_hub action=subscribe status=lost channel=%s error=%v", reviewEventsChannel, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, resubscribeMaxBackoff)
			continue
		}
		backoff = resubscribeMinBackoff

		switch msg := received.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" && !h.redisLive.Swap(true) {
				commonlog.Infof("event=review_hub action=subscribe status=restored channel=%s", reviewEventsChannel)
			}
		case *redis.Message:
			var event hubEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				commonlog.Warnf("event=review_hub action=consume status=failed error=%v", err)
				continue
			}
			if len(event.Payload) == 0 {
				continue
			}
			payload := []byte(event.Payload)
			if err := h.enqueue(func() { h.dispatch(event.Scope, event.FileID, payload) }); err != nil {
				return
			}
		}
	}
}

// dispatch runs on the hub goroutine.
func (h *Hub) dispatch(scope, fileID string, payload []byte) {
	var targets []Subscriber
	switch scope {
	case scopeFile:
		targets = h.registry.membersOf(fileID)
	case scopeGlobal:
		targets = h.registry.all()
	default:
		return
	}
	failed := 0
	for _, sub := range targets {
		if !sub.Deliver(payload) {
			failed++
			commonlog.Warnf("event=review_hub action=deliver status=failed scope=%s file_id=%s subscriber_id=%s", scope, fileID, sub.ID())
		}
	}
	commonlog.Debugf("event=review_hub action=dispatch status=ok scope=%s file_id=%s fanout_count=%d failed_count=%d", scope, fileID, len(targets)-failed, failed)
}

func (h *Hub) enqueue(op func()) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// call runs op on the hub goroutine and waits for it to finish.
func (h *Hub) call(op func()) error {
	finished := make(chan struct{})
	if err := h.enqueue(func() {
		op()
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubStopped
		}
	}
}
