package meter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCurve_Degenerate(t *testing.T) {
	// 空曲线和单点曲线
	assert.Equal(t, 0.0, EvaluateCurve(nil, 10))
	assert.Equal(t, 7.5, EvaluateCurve([]CurvePoint{{TimeMinutes: 0, ValueKWh: 7.5}}, 0))
	assert.Equal(t, 7.5, EvaluateCurve([]CurvePoint{{TimeMinutes: 0, ValueKWh: 7.5}}, 999))
}

func TestEvaluateCurve_TwoPointsIsLinear(t *testing.T) {
	points := []CurvePoint{
		{TimeMinutes: 0, ValueKWh: 0},
		{TimeMinutes: 30, ValueKWh: 15},
	}

	assert.InDelta(t, 0.0, EvaluateCurve(points, 0), 1e-9)
	assert.InDelta(t, 7.5, EvaluateCurve(points, 15), 1e-9)
	assert.InDelta(t, 15.0, EvaluateCurve(points, 30), 1e-9)
	// 四分之一处
	assert.InDelta(t, 3.75, EvaluateCurve(points, 7.5), 1e-9)
}

func TestEvaluateCurve_ClampsOutsideDomain(t *testing.T) {
	points := []CurvePoint{
		{TimeMinutes: 10, ValueKWh: 2},
		{TimeMinutes: 40, ValueKWh: 20},
	}

	// 域外钳制到边界值，不外推
	assert.InDelta(t, 2.0, EvaluateCurve(points, 0), 1e-9)
	assert.InDelta(t, 2.0, EvaluateCurve(points, 10), 1e-9)
	assert.InDelta(t, 20.0, EvaluateCurve(points, 40), 1e-9)
	assert.InDelta(t, 20.0, EvaluateCurve(points, 100), 1e-9)
}

func TestEvaluateCurve_EndpointsAndDeterminism(t *testing.T) {
	points := []CurvePoint{
		{TimeMinutes: 0, ValueKWh: 0},
		{TimeMinutes: 20, ValueKWh: 30},
		{TimeMinutes: 40, ValueKWh: 10},
		{TimeMinutes: 60, ValueKWh: 50},
	}

	// Bézier曲线经过首尾控制点
	assert.InDelta(t, 0.0, EvaluateCurve(points, 0), 1e-9)
	assert.InDelta(t, 50.0, EvaluateCurve(points, 60), 1e-9)

	// 同一时刻求值结果确定
	v1 := EvaluateCurve(points, 23.4)
	v2 := EvaluateCurve(points, 23.4)
	assert.Equal(t, v1, v2)

	// 三点曲线中点为解析值 (1-t)²P0 + 2t(1-t)P1 + t²P2
	quad := []CurvePoint{
		{TimeMinutes: 0, ValueKWh: 0},
		{TimeMinutes: 10, ValueKWh: 40},
		{TimeMinutes: 20, ValueKWh: 20},
	}
	assert.InDelta(t, 0.25*0+0.5*40+0.25*20, EvaluateCurve(quad, 10), 1e-9)
}

func TestCurveTickInterval(t *testing.T) {
	tests := []struct {
		name            string
		durationMinutes float64
		want            time.Duration
	}{
		{"短曲线钳制到5s", 2, 5 * time.Second},
		{"中等曲线按百分之一采样", 30, 18 * time.Second},
		{"长曲线钳制到60s", 500, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := []CurvePoint{
				{TimeMinutes: 0, ValueKWh: 0},
				{TimeMinutes: tt.durationMinutes, ValueKWh: 10},
			}
			assert.Equal(t, tt.want, CurveTickInterval(points))
		})
	}
}

func TestKWhToWh(t *testing.T) {
	assert.Equal(t, 0, KWhToWh(0))
	assert.Equal(t, 1500, KWhToWh(1.5))
	assert.Equal(t, 1235, KWhToWh(1.2345)) // 四舍五入
	assert.Equal(t, 1234, KWhToWh(1.2344))
}
