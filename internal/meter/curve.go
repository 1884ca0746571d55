package meter

import (
	"math"
	"time"
)

// CurvePoint 曲线控制点
type CurvePoint struct {
	TimeMinutes float64 `json:"timeMinutes"`
	ValueKWh    float64 `json:"valueKWh"`
}

// curveDomain 曲线的时间域[min,max]，单位分钟
func curveDomain(points []CurvePoint) (float64, float64) {
	if len(points) == 0 {
		return 0, 0
	}
	min, max := points[0].TimeMinutes, points[0].TimeMinutes
	for _, p := range points[1:] {
		if p.TimeMinutes < min {
			min = p.TimeMinutes
		}
		if p.TimeMinutes > max {
			max = p.TimeMinutes
		}
	}
	return min, max
}

// EvaluateCurve 计算曲线在elapsedMinutes时刻的值(kWh)
//
// 广义Bézier求值（De Casteljau算法）：对n+1个控制点迭代lerp n次。
// 两个控制点退化为线性插值，单点退化为常量。时间超出曲线域时
// 钳制到边界值，不外推。
func EvaluateCurve(points []CurvePoint, elapsedMinutes float64) float64 {
	switch len(points) {
	case 0:
		return 0
	case 1:
		return points[0].ValueKWh
	}

	min, max := curveDomain(points)
	t := 0.0
	if max > min {
		t = (clamp(elapsedMinutes, min, max) - min) / (max - min)
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.ValueKWh
	}
	for n := len(values); n > 1; n-- {
		for i := 0; i < n-1; i++ {
			values[i] = values[i] + (values[i+1]-values[i])*t
		}
	}
	return values[0]
}

// CurveDurationMinutes 曲线时间跨度，单位分钟
func CurveDurationMinutes(points []CurvePoint) float64 {
	min, max := curveDomain(points)
	return max - min
}

// CurveTickInterval 计算曲线刷新间隔
//
// 自动计算时约为整条曲线100个采样点，钳制在[5s, 60s]。
func CurveTickInterval(points []CurvePoint) time.Duration {
	duration := CurveDurationMinutes(points)
	seconds := clamp(duration*60/100, 5, 60)
	return time.Duration(seconds * float64(time.Second))
}

// KWhToWh kWh转整数Wh，四舍五入
func KWhToWh(kwh float64) int {
	return int(math.Round(kwh * 1000))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
