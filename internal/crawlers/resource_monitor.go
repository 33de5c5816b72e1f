package crawlers

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"github.com/shirou/gopsutil/v3/mem"
)

// MemorySampler 运行期间的内存采样器
// 记录进程堆内存峰值与系统内存使用率峰值, 结果写入运行统计
type MemorySampler struct {
	interval time.Duration

	mu            sync.Mutex
	peakHeap      uint64
	peakSystemPct float64
	totalMemory   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// MemorySample 采样结果
type MemorySample struct {
	PeakHeapBytes uint64
	SystemMemUsed float64
	TotalMemory   uint64
}

// NewMemorySampler 创建内存采样器
func NewMemorySampler(interval time.Duration) *MemorySampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &MemorySampler{interval: interval}
}

// Start 启动后台采样, 重复调用无效
func (ms *MemorySampler) Start(ctx context.Context) {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ms.cancel = cancel
	ms.done = make(chan struct{})
	ms.mu.Unlock()

	if vmStat, err := mem.VirtualMemory(); err != nil {
		utils.Debugf("获取系统内存失败: %v", err)
	} else {
		ms.mu.Lock()
		ms.totalMemory = vmStat.Total
		ms.mu.Unlock()
		utils.Debugf("系统总内存: %.2f GB", float64(vmStat.Total)/(1024*1024*1024))
	}

	ms.sample()
	go ms.loop(ctx)
}

// loop 后台采样循环
func (ms *MemorySampler) loop(ctx context.Context) {
	defer close(ms.done)

	ticker := time.NewTicker(ms.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.sample()
		}
	}
}

// sample 采样一次
func (ms *MemorySampler) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var usedPct float64
	if vmStat, err := mem.VirtualMemory(); err == nil {
		usedPct = vmStat.UsedPercent
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if memStats.HeapAlloc > ms.peakHeap {
		ms.peakHeap = memStats.HeapAlloc
	}
	if usedPct > ms.peakSystemPct {
		ms.peakSystemPct = usedPct
	}
}

// Stop 停止采样并返回峰值
func (ms *MemorySampler) Stop() MemorySample {
	ms.mu.Lock()
	cancel, done := ms.cancel, ms.done
	ms.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	ms.sample()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return MemorySample{
		PeakHeapBytes: ms.peakHeap,
		SystemMemUsed: ms.peakSystemPct,
		TotalMemory:   ms.totalMemory,
	}
}
