package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Probe 检查网络是否可用
type Probe func(ctx context.Context) error

// LedgerProbe 用获取服务器时间探测链服务
func LedgerProbe(ledger interface {
	FetchServerTime(ctx context.Context) (int64, error)
}) Probe {
	return func(ctx context.Context) error {
		_, err := ledger.FetchServerTime(ctx)
		return err
	}
}

// NetworkMonitor 定时探测 记录当前是否在线
type NetworkMonitor struct {
	probe    Probe
	interval time.Duration
	online   atomic.Bool

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewNetworkMonitor 初始状态为在线
func NewNetworkMonitor(probe Probe, interval time.Duration) *NetworkMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &NetworkMonitor{
		probe:    probe,
		interval: interval,
		stop:     make(chan struct{}),
	}
	m.online.Store(true)
	return m
}

// IsOnline 最近一次探测的结果
func (m *NetworkMonitor) IsOnline() bool {
	return m.online.Load()
}

// Check 立即探测一次
func (m *NetworkMonitor) Check(ctx context.Context) bool {
	err := m.probe(ctx)
	online := err == nil
	if prev := m.online.Swap(online); prev != online {
		if online {
			log.Info().Msgf("NetworkMonitor back online")
		} else {
			log.Warn().Msgf("NetworkMonitor offline: %s", err.Error())
		}
	}
	return online
}

func (m *NetworkMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.interval)
				m.Check(ctx)
				cancel()
				timer.Reset(m.interval)
			}
		}
	}()
}

func (m *NetworkMonitor) Stop() {
	m.once.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}
