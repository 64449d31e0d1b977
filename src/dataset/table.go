package dataset

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Kind 列的推断类型
type Kind int

const (
	Categorical Kind = iota
	Numeric
	Temporal
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Temporal:
		return "temporal"
	default:
		return "categorical"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "categorical":
		*k = Categorical
	case "numeric":
		*k = Numeric
	case "temporal":
		*k = Temporal
	default:
		return fmt.Errorf("unknown column kind %q", text)
	}
	return nil
}

// Table 不可变的数据表: gota DataFrame + 每列的类型.
// 所有修改操作都返回新的 Table.
type Table struct {
	df         dataframe.DataFrame
	kinds      map[string]Kind
	timeColumn string
}

// New 根据 DataFrame 构建 Table, 数值列由 gota 的 Int/Float 类型决定
func New(df dataframe.DataFrame) (*Table, error) {
	if df.Err != nil {
		return nil, fmt.Errorf("dataframe: %w", df.Err)
	}
	kinds := make(map[string]Kind, df.Ncol())
	for _, name := range df.Names() {
		kinds[name] = kindOf(df.Col(name))
	}
	return &Table{df: df, kinds: kinds}, nil
}

func kindOf(s series.Series) Kind {
	switch s.Type() {
	case series.Int, series.Float:
		return Numeric
	default:
		return Categorical
	}
}

// DataFrame 返回底层 DataFrame, 调用方不得修改
func (t *Table) DataFrame() dataframe.DataFrame { return t.df }

func (t *Table) Nrow() int       { return t.df.Nrow() }
func (t *Table) Ncol() int       { return t.df.Ncol() }
func (t *Table) Names() []string { return t.df.Names() }

// TimeColumn 预处理过的时间列, 没有时为空
func (t *Table) TimeColumn() string { return t.timeColumn }

func (t *Table) HasColumn(name string) bool {
	_, ok := t.kinds[name]
	return ok
}

func (t *Table) Kind(name string) (Kind, bool) {
	k, ok := t.kinds[name]
	return k, ok
}

// Kinds 返回列类型映射的副本
func (t *Table) Kinds() map[string]Kind {
	out := make(map[string]Kind, len(t.kinds))
	for k, v := range t.kinds {
		out[k] = v
	}
	return out
}

// NumericColumns 按原始列顺序返回数值列
func (t *Table) NumericColumns() []string {
	var cols []string
	for _, name := range t.df.Names() {
		if t.kinds[name] == Numeric {
			cols = append(cols, name)
		}
	}
	return cols
}

// Floats 返回列的数值, 缺失值为 NaN
func (t *Table) Floats(name string) ([]float64, error) {
	if !t.HasColumn(name) {
		return nil, &ColumnNotFoundError{Column: name}
	}
	return t.df.Col(name).Float(), nil
}

// Strings 返回列的字符串表示, 缺失值为 "NaN"
func (t *Table) Strings(name string) ([]string, error) {
	if !t.HasColumn(name) {
		return nil, &ColumnNotFoundError{Column: name}
	}
	return t.df.Col(name).Records(), nil
}

// Missing 返回每行是否缺失
func (t *Table) Missing(name string) ([]bool, error) {
	if !t.HasColumn(name) {
		return nil, &ColumnNotFoundError{Column: name}
	}
	col := t.df.Col(name)
	out := make([]bool, col.Len())
	for i := range out {
		out[i] = col.Elem(i).IsNA()
	}
	return out, nil
}
