package events

import (
	"sync"

	"github.com/charging-platform/charge-point-simulator/internal/logger"
)

// Handler 事件处理函数
type Handler func(event Event)

// Unsubscribe 取消订阅句柄
type Unsubscribe func()

// Bus 同步事件总线
//
// 事件按订阅顺序同步分发；单个订阅者panic会被捕获并记录，
// 不影响其他订阅者。
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
	all      map[int]Handler
	logger   *logger.Logger
}

// NewBus 创建事件总线
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Global()
	}
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		all:      make(map[int]Handler),
		logger:   log.With("event-bus"),
	}
}

// Subscribe 订阅指定类型的事件，返回取消订阅句柄
func (b *Bus) Subscribe(eventType EventType, handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// SubscribeAll 订阅全部事件，返回取消订阅句柄
func (b *Bus) SubscribeAll(handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish 同步分发事件到所有匹配的订阅者
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	for _, h := range b.handlers[event.Type] {
		targets = append(targets, h)
	}
	for _, h := range b.all {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.dispatch(h, event)
	}
}

// dispatch 调用单个订阅者并吸收panic
func (b *Bus) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Event subscriber panicked on %s: %v", event.Type, r)
		}
	}()
	handler(event)
}
