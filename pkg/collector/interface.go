package collector

import (
	"context"

	"TriggerRadar/pkg/model"
)

// MarketDataSource 行情数据获取接口
// 每tick每个(交易对,周期)只会被调用一次，失败视作瞬时错误下tick重试
type MarketDataSource interface {
	Fetch(ctx context.Context, req model.PairRequest) (*model.MarketState, error)
}
