package processor

import (
	"bytes"
	"math"
	"strconv"
)

// Float 在 JSON 中把 NaN 和 ±Inf 输出为 null
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

// finite 缺失值(NaN)和 ±Inf 都不参与计算
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
