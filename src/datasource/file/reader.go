// reader.go
package file

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"SalesInsight/src/config"
	"SalesInsight/src/dataset"

	"github.com/go-gota/gota/dataframe"
	"github.com/tealeg/xlsx"
)

// 视为缺失值的单元格内容
var MissingMarkers = []string{"", "NA", "NaN", "<nil>", "null"}

// 候选分隔符, 探测时按此顺序打破平局
var delimiterCandidates = []rune{',', ';', '\t', '|'}

var zipMagic = []byte("PK\x03\x04")

// Options 解析选项
type Options struct {
	Encodings  []string
	Delimiter  rune // 0 表示自动探测
	SheetName  string
	HeaderRow  int
	TimeColumn string
}

// OptionsFrom 由数据配置生成解析选项
func OptionsFrom(dc *config.DataConfig) Options {
	return Options{
		Encodings:  dc.Encodings,
		Delimiter:  dc.Delim(),
		SheetName:  dc.SheetName,
		HeaderRow:  dc.HeaderRow,
		TimeColumn: dc.TimeColumn,
	}
}

// LoadFile 读取本地文件并解析
func LoadFile(path string, opts Options) (*dataset.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &dataset.LoadError{Source: path, Reason: "cannot read file", Err: err}
	}
	return Load(data, filepath.Base(path), opts)
}

// Load 将原始字节解析为预处理后的 Table. 所有结构性错误都以 *dataset.LoadError 返回.
func Load(data []byte, name string, opts Options) (*dataset.Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &dataset.LoadError{Source: name, Reason: "empty input"}
	}

	var (
		df  dataframe.DataFrame
		err error
	)
	if IsXLSX(data, name) {
		df, err = readXLSX(data, opts)
	} else {
		df, err = readCSV(data, opts)
	}
	if err != nil {
		return nil, &dataset.LoadError{Source: name, Reason: "malformed table", Err: err}
	}

	table, err := dataset.New(df)
	if err != nil {
		return nil, &dataset.LoadError{Source: name, Reason: "malformed table", Err: err}
	}

	table, err = dataset.Preprocess(table, opts.TimeColumn)
	if err != nil {
		return nil, &dataset.LoadError{Source: name, Reason: "cannot normalize time column", Err: err}
	}
	return table, nil
}

// IsXLSX 根据 zip 文件头或扩展名判断是否为 xlsx
func IsXLSX(data []byte, name string) bool {
	return bytes.HasPrefix(data, zipMagic) || strings.EqualFold(filepath.Ext(name), ".xlsx")
}

func readCSV(data []byte, opts Options) (dataframe.DataFrame, error) {
	text, _ := Decode(data, opts.Encodings)

	delim := opts.Delimiter
	if delim == 0 {
		delim = SniffDelimiter(text)
	}

	df := dataframe.ReadCSV(strings.NewReader(text),
		dataframe.WithDelimiter(delim),
		dataframe.WithLazyQuotes(true),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(MissingMarkers),
	)
	return df, df.Err
}

// SniffDelimiter 取表头行中出现次数最多的候选分隔符, 都没有时返回 ','
func SniffDelimiter(text string) rune {
	header := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		header = text[:i]
	}

	best, bestCount := ',', 0
	for _, c := range delimiterCandidates {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func readXLSX(data []byte, opts Options) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("打开xlsx失败: %w", err)
	}
	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表")
	}

	sheet := xlFile.Sheets[0]
	if s, ok := xlFile.Sheet[opts.SheetName]; ok && opts.SheetName != "" {
		sheet = s
	}

	records, err := sheetRecords(sheet, opts.HeaderRow)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("sheet %s: %w", sheet.Name, err)
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(MissingMarkers),
	)
	return df, df.Err
}

// sheetRecords 将工作表转为 [][]string, 第 headerRow 行是标题行
func sheetRecords(sheet *xlsx.Sheet, headerRow int) ([][]string, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, fmt.Errorf("header row %d out of range (%d rows)", headerRow, len(sheet.Rows))
	}

	var headers []string
	for _, cell := range sheet.Rows[headerRow].Cells {
		headers = append(headers, strings.TrimSpace(cell.Value))
	}
	// 去掉标题行右侧的空列
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("header row %d is empty", headerRow)
	}

	records := [][]string{headers}
	for _, row := range sheet.Rows[headerRow+1:] {
		if row == nil {
			continue
		}
		record := make([]string, len(headers))
		empty := true
		for i, cell := range row.Cells {
			if i >= len(headers) { // 确保不超出列数范围
				break
			}
			record[i] = cell.Value
			if strings.TrimSpace(cell.Value) != "" {
				empty = false
			}
		}
		if !empty {
			records = append(records, record)
		}
	}
	return records, nil
}
