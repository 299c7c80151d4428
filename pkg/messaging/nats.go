// pkg/messaging/nats.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"TriggerRadar/pkg/bus"
	"TriggerRadar/pkg/model"
)

// 触发事件对外广播的Stream与主题前缀
const (
	triggersStream = "TRIGGERS_STREAM"
	subjectPrefix  = "triggers."
)

// NATSClient NATS JetStream客户端，把进程内总线的触发事件桥接给外部消费方
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	ctx       context.Context
	cancel    context.CancelFunc
	consumers map[string]jetstream.Consumer
	mu        sync.RWMutex
}

// TriggerHandler 外部触发事件处理函数
type TriggerHandler func(event model.TriggerEvent) error

// NewNATSClient 创建NATS客户端并确保TRIGGERS Stream就绪
func NewNATSClient(natsURL string) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS连接断开: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Println("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]jetstream.Consumer),
	}

	if err := client.setupStream(); err != nil {
		cancel()
		nc.Close()
		return nil, err
	}
	return client, nil
}

func (c *NATSClient) setupStream() error {
	_, err := c.jetStream.CreateOrUpdateStream(c.ctx, jetstream.StreamConfig{
		Name:        triggersStream,
		Subjects:    []string{subjectPrefix + ">"},
		Description: "条件/剧本触发事件流",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     50000,
		MaxBytes:    50 * 1024 * 1024,
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("创建Stream %s 失败: %w", triggersStream, err)
	}
	return nil
}

// PublishTrigger 发布触发事件到外部流
// 主题为 triggers.condition.{指纹} 或 triggers.playbook.{ID}
func (c *NATSClient) PublishTrigger(event model.TriggerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化触发事件失败: %w", err)
	}
	subject := subjectPrefix + event.Channel
	if _, err := c.jetStream.Publish(c.ctx, subject, payload); err != nil {
		return fmt.Errorf("发布触发事件到 %s 失败: %w", subject, err)
	}
	return nil
}

// Bridge 把进程内总线的全部触发事件转发到NATS
func (c *NATSClient) Bridge(b *bus.Bus) {
	b.Subscribe("*", "nats-bridge", func(event model.TriggerEvent) {
		if err := c.PublishTrigger(event); err != nil {
			log.Printf("桥接事件 %s 到NATS失败: %v", event.ID, err)
		}
	})
}

// SubscribeTriggers 外部消费方订阅触发事件，filterSubject支持通配
func (c *NATSClient) SubscribeTriggers(consumerName, filterSubject string, handler TriggerHandler) error {
	consumer, err := c.jetStream.CreateOrUpdateConsumer(c.ctx, triggersStream, jetstream.ConsumerConfig{
		Name:          consumerName,
		FilterSubject: subjectPrefix + filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", consumerName, err)
	}

	c.mu.Lock()
	c.consumers[consumerName] = consumer
	c.mu.Unlock()

	go c.consumeMessages(consumer, consumerName, handler)
	return nil
}

func (c *NATSClient) consumeMessages(consumer jetstream.Consumer, consumerName string, handler TriggerHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("消费者 %s 异常退出: %v", consumerName, r)
		}
	}()

	iter, err := consumer.Messages(jetstream.PullMaxMessages(10))
	if err != nil {
		log.Printf("获取 %s 消息迭代器失败: %v", consumerName, err)
		return
	}
	defer iter.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := iter.Next()
			if err != nil {
				if err == jetstream.ErrNoMessages {
					continue
				}
				log.Printf("获取 %s 消息失败: %v", consumerName, err)
				time.Sleep(time.Second)
				continue
			}

			var event model.TriggerEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				log.Printf("消费者 %s 解析事件失败: %v", consumerName, err)
				msg.Ack()
				continue
			}
			if err := handler(event); err != nil {
				log.Printf("消费者 %s 处理事件 %s 失败: %v", consumerName, event.ID, err)
				msg.Nak()
			} else {
				msg.Ack()
			}
		}
	}
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close 关闭连接
func (c *NATSClient) Close() error {
	c.cancel()

	c.mu.Lock()
	c.consumers = make(map[string]jetstream.Consumer)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
	log.Println("NATS连接已关闭")
	return nil
}
