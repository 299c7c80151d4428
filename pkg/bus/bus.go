// pkg/bus/bus.go
package bus

import (
	"log"
	"strings"
	"sync"

	"TriggerRadar/pkg/model"
)

// Handler 事件处理函数，由订阅者各自的goroutine串行调用
type Handler func(event model.TriggerEvent)

// subscription 单个订阅者，带独立的有界队列
type subscription struct {
	pattern string
	name    string
	ch      chan model.TriggerEvent
	handler Handler
}

// Bus 进程内触发事件总线
// 发布端从不阻塞：订阅者队列满时丢弃并告警，绝不出现无界队列
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
	wg         sync.WaitGroup
}

// NewBus 创建事件总线，bufferSize为每个订阅者的队列容量
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe 注册订阅者
// pattern支持精确主题、"condition.*"/"playbook.*"前缀通配和全局"*"
func (b *Bus) Subscribe(pattern, name string, handler Handler) {
	sub := &subscription{
		pattern: pattern,
		name:    name,
		ch:      make(chan model.TriggerEvent, b.bufferSize),
		handler: handler,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Printf("警告: 总线已关闭，拒绝订阅者 %s", name)
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(sub)
}

// Publish 发布事件到主题，对发布方是即发即忘
// 同一主题的事件按发布顺序送达每个订阅者，跨主题不保证顺序
func (b *Bus) Publish(topic string, event model.TriggerEvent) {
	event.Channel = topic

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !matchTopic(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			log.Printf("警告: 订阅者 %s 队列已满，丢弃主题 %s 的事件 %s", sub.name, topic, event.ID)
		}
	}
}

// Close 关闭总线并等待所有订阅者处理完队列中的事件
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	b.wg.Wait()
}

// consume 订阅者消费循环，处理器异常不得影响兄弟订阅者和发布方
func (b *Bus) consume(sub *subscription) {
	defer b.wg.Done()
	for event := range sub.ch {
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub *subscription, event model.TriggerEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("订阅者 %s 处理事件 %s 时panic: %v", sub.name, event.ID, r)
		}
	}()
	sub.handler(event)
}

// matchTopic 主题匹配：精确、"前缀.*"通配或全局"*"
func matchTopic(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return false
}
