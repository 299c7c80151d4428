// pkg/collector/binance.go
package collector

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"TriggerRadar/pkg/model"
)

// BinanceSource 基于币安K线接口的行情数据源
// 每个二元组挂一个熔断器，某个交易对接口持续失败时快速放弃，不拖累整个tick
type BinanceSource struct {
	client      *binance.Client
	limiter     *rate.Limiter
	candleLimit int

	mu       sync.Mutex
	breakers map[model.PairKey]*gobreaker.CircuitBreaker
}

// NewBinanceSource 创建币安数据源
func NewBinanceSource(baseURL string, ratePerSec float64, candleLimit int) *BinanceSource {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if candleLimit <= 0 {
		candleLimit = 100
	}
	return &BinanceSource{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)),
		candleLimit: candleLimit,
		breakers:    make(map[model.PairKey]*gobreaker.CircuitBreaker),
	}
}

// Fetch 拉取K线并计算请求的指标
func (s *BinanceSource) Fetch(ctx context.Context, req model.PairRequest) (*model.MarketState, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: 限流等待被取消: %v", model.ErrTransientFetch, err)
	}

	result, err := s.breakerFor(req.Pair).Execute(func() (interface{}, error) {
		return s.client.NewKlinesService().
			Symbol(req.Pair.Symbol).
			Interval(req.Pair.Timeframe).
			Limit(s.candleLimit).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrTransientFetch, req.Pair, err)
	}

	klines := result.([]*binance.Kline)
	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("%w: 解析 %s K线失败: %v", model.ErrTransientFetch, req.Pair, err)
		}
		candles = append(candles, candle)
	}

	return &model.MarketState{
		Symbol:     req.Pair.Symbol,
		Timeframe:  req.Pair.Timeframe,
		Candles:    candles,
		Indicators: ComputeIndicators(candles, req.Indicators),
		FetchedAt:  time.Now(),
	}, nil
}

func (s *BinanceSource) breakerFor(pair model.PairKey) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, exists := s.breakers[pair]; exists {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    pair.String(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("数据源 %s 熔断器状态变更: %s -> %s", name, from, to)
		},
	})
	s.breakers[pair] = cb
	return cb
}

func parseKline(k *binance.Kline) (model.Candle, error) {
	var candle model.Candle
	var err error

	if candle.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return candle, err
	}
	if candle.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return candle, err
	}
	if candle.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return candle, err
	}
	if candle.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return candle, err
	}
	if candle.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return candle, err
	}
	candle.OpenTime = time.UnixMilli(k.OpenTime)
	candle.CloseTime = time.UnixMilli(k.CloseTime)
	return candle, nil
}
