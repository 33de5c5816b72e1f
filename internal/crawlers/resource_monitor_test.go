package crawlers

import (
	"context"
	"testing"
	"time"
)

func TestMemorySampler(t *testing.T) {
	sampler := NewMemorySampler(5 * time.Millisecond)
	sampler.Start(context.Background())
	// 重复启动无效
	sampler.Start(context.Background())

	buf := make([]byte, 4<<20)
	buf[len(buf)-1] = 1
	time.Sleep(20 * time.Millisecond)

	sample := sampler.Stop()
	if sample.PeakHeapBytes == 0 {
		t.Error("PeakHeapBytes 应大于0")
	}
	if sample.SystemMemUsed < 0 || sample.SystemMemUsed > 100 {
		t.Errorf("SystemMemUsed = %.2f, 超出范围", sample.SystemMemUsed)
	}
	_ = buf
}

func TestMemorySampler_StopWithoutStart(t *testing.T) {
	sample := NewMemorySampler(0).Stop()
	if sample.PeakHeapBytes == 0 {
		t.Error("未启动时Stop仍应采样一次")
	}
}
