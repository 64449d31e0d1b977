package dataset

import (
	"fmt"
	"time"

	"SalesInsight/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Preprocess 规范化时间列:
// 无法解析的行被删除, 其余行按时间升序 (稳定) 排列, 值统一写成 utils.CanonicalLayout.
// 时间列不存在时原样返回. 对已处理的表再次调用结果不变.
func Preprocess(t *Table, timeColumn string) (*Table, error) {
	if timeColumn == "" || !utils.HasColumn(t.df, timeColumn) {
		return t, nil
	}

	col := t.df.Col(timeColumn)
	keep := make([]int, 0, col.Len())
	canonical := make([]string, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		elem := col.Elem(i)
		if elem.IsNA() {
			continue
		}
		ts, err := utils.ParseTime(elem.String())
		if err != nil {
			continue
		}
		keep = append(keep, i)
		canonical = append(canonical, ts.Format(utils.CanonicalLayout))
	}

	df := t.df.Subset(keep).
		Mutate(series.New(canonical, series.String, timeColumn))
	// 规范格式的字典序即时间顺序
	if df.Nrow() > 1 {
		df = df.Arrange(dataframe.Sort(timeColumn))
	}
	if df.Err != nil {
		return nil, fmt.Errorf("预处理时间列 %s 失败: %w", timeColumn, df.Err)
	}

	out, err := New(df)
	if err != nil {
		return nil, err
	}
	out.kinds[timeColumn] = Temporal
	out.timeColumn = timeColumn
	return out, nil
}

// Times 返回已预处理时间列的值
func (t *Table) Times() ([]time.Time, error) {
	if t.timeColumn == "" {
		return nil, fmt.Errorf("table has no temporal column")
	}
	records := t.df.Col(t.timeColumn).Records()
	out := make([]time.Time, len(records))
	for i, r := range records {
		ts, err := time.Parse(utils.CanonicalLayout, r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = ts
	}
	return out, nil
}
