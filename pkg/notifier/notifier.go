// pkg/notifier/notifier.go
package notifier

import (
	"log"
	"sync"
	"time"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/registry"
)

// 幂等键缓存上限，超过后淘汰最旧的记录
const maxSeenKeys = 16384

// ActionHandler 外部动作协作方：发通知、触发下单等
// 失败由通知器记录并重试一次，不会代替处理方无限重试
type ActionHandler interface {
	Handle(event model.TriggerEvent, subscriberID string) error
}

// PlaybookOwnerLookup 剧本属主查询，剧本事件只分发给属主
type PlaybookOwnerLookup interface {
	Owner(playbookID string) (ownerID, channel string, ok bool)
}

// DeliveryStore 触发事件与分发记录的持久化协作方
type DeliveryStore interface {
	SaveTrigger(event *model.TriggerEvent) error
	SaveDelivery(record *model.DeliveryRecord) error
}

// Notifier 触发事件分发器
// 订阅总线通配主题，把事件路由到各订阅者登记的动作处理器
type Notifier struct {
	registry *registry.Registry
	owners   PlaybookOwnerLookup
	store    DeliveryStore // 可为nil

	mu       sync.Mutex
	handlers map[string]ActionHandler // 渠道 -> 处理器
	seen     map[string]struct{}      // (event_id, subscriber_id) 幂等键
	seenFIFO []string

	retryDelay time.Duration
}

// NewNotifier 创建分发器，owners与store可为nil
func NewNotifier(reg *registry.Registry, owners PlaybookOwnerLookup, store DeliveryStore) *Notifier {
	return &Notifier{
		registry:   reg,
		owners:     owners,
		store:      store,
		handlers:   make(map[string]ActionHandler),
		seen:       make(map[string]struct{}),
		retryDelay: 500 * time.Millisecond,
	}
}

// RegisterHandler 登记渠道处理器，如 alert、bot
func (n *Notifier) RegisterHandler(channel string, handler ActionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[channel] = handler
}

// Start 挂到总线的全局通配主题上
func (n *Notifier) Start(b *bus.Bus) {
	b.Subscribe("*", "notifier", n.HandleEvent)
}

// HandleEvent 处理一条触发事件：持久化、查订阅者、逐个分发
// 上游已经保证假→真边沿去抖，这里再用幂等键挡住同一事件的重复投递
func (n *Notifier) HandleEvent(event model.TriggerEvent) {
	if n.store != nil {
		if err := n.store.SaveTrigger(&event); err != nil {
			log.Printf("持久化触发事件 %s 失败: %v", event.ID, err)
		}
	}

	for subscriberID, channel := range n.targets(event) {
		if !n.markSeen(event.ID, subscriberID) {
			continue // 重复投递，跳过
		}
		n.dispatch(event, subscriberID, channel)
	}
}

// targets 解析事件的接收方集合
func (n *Notifier) targets(event model.TriggerEvent) map[string]string {
	if event.PlaybookID != "" {
		if n.owners == nil {
			return nil
		}
		ownerID, channel, ok := n.owners.Owner(event.PlaybookID)
		if !ok {
			log.Printf("警告: 剧本 %s 属主未知，事件 %s 无处投递", event.PlaybookID, event.ID)
			return nil
		}
		return map[string]string{ownerID: channel}
	}
	return n.registry.Subscribers(event.Fingerprint)
}

// dispatch 单个订阅者的分发，失败重试一次后记录失败
// 单个订阅者的失败不影响其他订阅者
func (n *Notifier) dispatch(event model.TriggerEvent, subscriberID, channel string) {
	handler := n.handlerFor(channel)
	if handler == nil {
		log.Printf("警告: 渠道 %s 没有登记处理器，订阅者 %s 的事件 %s 丢弃", channel, subscriberID, event.ID)
		return
	}

	attempts := 1
	err := handler.Handle(event, subscriberID)
	if err != nil {
		log.Printf("分发事件 %s 给 %s 失败，重试: %v", event.ID, subscriberID, err)
		time.Sleep(n.retryDelay)
		attempts++
		err = handler.Handle(event, subscriberID)
	}

	record := &model.DeliveryRecord{
		EventID:      event.ID,
		SubscriberID: subscriberID,
		Channel:      channel,
		Status:       model.DeliveryStatusSent,
		Attempts:     attempts,
		CreatedAt:    time.Now(),
	}
	if err != nil {
		record.Status = model.DeliveryStatusFailed
		record.Error = err.Error()
		log.Printf("分发事件 %s 给 %s 最终失败: %v", event.ID, subscriberID, err)
	}
	if n.store != nil {
		if err := n.store.SaveDelivery(record); err != nil {
			log.Printf("保存分发记录失败: %v", err)
		}
	}
}

func (n *Notifier) handlerFor(channel string) ActionHandler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handlers[channel]
}

// markSeen 幂等键登记，返回是否首次见到
func (n *Notifier) markSeen(eventID, subscriberID string) bool {
	key := eventID + "|" + subscriberID

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, dup := n.seen[key]; dup {
		return false
	}
	n.seen[key] = struct{}{}
	n.seenFIFO = append(n.seenFIFO, key)
	if len(n.seenFIFO) > maxSeenKeys {
		oldest := n.seenFIFO[0]
		n.seenFIFO = n.seenFIFO[1:]
		delete(n.seen, oldest)
	}
	return true
}
