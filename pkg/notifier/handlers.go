// pkg/notifier/handlers.go
package notifier

import (
	"log"

	"TriggerRadar/pkg/model"
)

// LogHandler 把触发写进日志的兜底处理器
// 真实的告警推送和机器人下单走NATS桥接，由外部消费方完成
type LogHandler struct{}

func (LogHandler) Handle(event model.TriggerEvent, subscriberID string) error {
	if event.PlaybookID != "" {
		log.Printf("触发通知: 订阅者=%s 剧本=%s 时间=%s",
			subscriberID, event.PlaybookID, event.TriggeredAt.Format("15:04:05"))
		return nil
	}
	log.Printf("触发通知: 订阅者=%s 条件=%s %s/%s 值=%.4f",
		subscriberID, event.Fingerprint, event.Symbol, event.Timeframe, event.TriggerValue)
	return nil
}
