package meter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink 记录写入与上报次数的测试Sink
type fakeSink struct {
	mu    sync.Mutex
	value int
	sent  int
}

func (f *fakeSink) MeterValueWh() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeSink) SetMeterValueWh(valueWh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = valueWh
}

func (f *fakeSink) SendMeterValue() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
}

func (f *fakeSink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func TestScheduler_IncrementAccumulates(t *testing.T) {
	sink := &fakeSink{value: 100}
	s := NewScheduler(sink, nil)
	defer func() {
		s.Stop()
		s.Wait()
	}()

	s.StartIncrement(IncrementConfig{Interval: time.Second, IncrementWh: 50})
	assert.True(t, s.IsActive())

	// 两个tick后电表值至少累加两次，且每次tick都上报
	require.Eventually(t, func() bool {
		return sink.MeterValueWh() >= 200
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, sink.sentCount(), 2)
}

func TestScheduler_IncrementStopsAtMaxValue(t *testing.T) {
	sink := &fakeSink{value: 0}
	s := NewScheduler(sink, nil)
	defer s.Wait()

	s.StartIncrement(IncrementConfig{Interval: time.Second, IncrementWh: 400, MaxValueWh: 1000})

	// 达到上限后钳制并自停
	require.Eventually(t, func() bool {
		return !s.IsActive()
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1000, sink.MeterValueWh())
}

func TestScheduler_StopHaltsUpdates(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, nil)

	s.StartIncrement(IncrementConfig{Interval: time.Second, IncrementWh: 10})
	require.Eventually(t, func() bool {
		return sink.MeterValueWh() > 0
	}, 5*time.Second, 20*time.Millisecond)

	s.Stop()
	s.Wait()
	assert.False(t, s.IsActive())

	frozen := sink.MeterValueWh()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, frozen, sink.MeterValueWh())
}

func TestScheduler_NewStrategyReplacesOld(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, nil)
	defer func() {
		s.Stop()
		s.Wait()
	}()

	s.StartIncrement(IncrementConfig{Interval: time.Second, IncrementWh: 1})
	// 曲线策略隐式停止递增策略
	s.StartCurve(CurveConfig{
		Points: []CurvePoint{
			{TimeMinutes: 0, ValueKWh: 5},
			{TimeMinutes: 1, ValueKWh: 5},
		},
		Interval: time.Second,
	})
	assert.True(t, s.IsActive())

	// 常值曲线tick后电表值来自曲线而非递增
	require.Eventually(t, func() bool {
		return sink.MeterValueWh() == 5000
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 5000, sink.MeterValueWh())
}

func TestScheduler_IntervalClampedToOneSecond(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, nil)
	defer func() {
		s.Stop()
		s.Wait()
	}()

	s.StartIncrement(IncrementConfig{Interval: time.Millisecond, IncrementWh: 1})

	// 间隔被钳制到1s，300ms内不应有任何tick
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, sink.MeterValueWh())
}
