package session

import (
	"sync"
	"time"

	"SalesInsight/src/dataset"
	"SalesInsight/src/datasource/file"
)

// State 会话状态
type State string

const (
	Empty  State = "empty"
	Loaded State = "loaded"
	Failed State = "error"
)

// Status 会话的只读快照
type Status struct {
	State          State     `json:"state"`
	Message        string    `json:"message,omitempty"`
	Source         string    `json:"source,omitempty"`
	LoadedAt       time.Time `json:"loaded_at,omitzero"`
	Rows           int       `json:"rows"`
	Columns        int       `json:"columns"`
	ColumnNames    []string  `json:"column_names"`
	HasValueColumn bool      `json:"has_value_column"`
	HasTimeColumn  bool      `json:"has_time_column"`
	NumericColumns []string  `json:"numeric_columns"`

	ColumnKinds   map[string]dataset.Kind `json:"column_kinds,omitempty"`
	MissingValues map[string]int          `json:"missing_values,omitempty"` // 每列缺失值个数
}

// Session 进程内唯一的活动数据集. 读多写少, 用读写锁保护.
// 解析在锁外进行, 只有替换指针时持有写锁; loadMu 保证同一时刻只有一个加载.
type Session struct {
	opts        file.Options
	valueColumn string

	loadMu sync.Mutex

	mu       sync.RWMutex
	table    *dataset.Table
	loadErr  error
	source   string
	loadedAt time.Time

	now func() time.Time
}

// New valueColumn 仅用于状态报告
func New(opts file.Options, valueColumn string) *Session {
	return &Session{opts: opts, valueColumn: valueColumn, now: time.Now}
}

// Load 解析上传的字节并替换当前数据集. 失败时会话进入错误状态.
func (s *Session) Load(data []byte, name string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	table, err := file.Load(data, name, s.opts)
	s.swap(table, name, err)
	return err
}

// LoadFile 从本地路径加载
func (s *Session) LoadFile(path string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	table, err := file.LoadFile(path, s.opts)
	s.swap(table, path, err)
	return err
}

func (s *Session) swap(table *dataset.Table, source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = source
	s.loadedAt = s.now()
	if err != nil {
		s.table = nil
		s.loadErr = err
		return
	}
	s.table = table
	s.loadErr = nil
}

// Current 返回当前数据集, 没有时返回 *dataset.NotLoadedError
func (s *Session) Current() (*dataset.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.table == nil {
		return nil, &dataset.NotLoadedError{Cause: s.loadErr}
	}
	return s.table, nil
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:          Empty,
		Source:         s.source,
		LoadedAt:       s.loadedAt,
		ColumnNames:    []string{},
		NumericColumns: []string{},
	}
	switch {
	case s.loadErr != nil:
		st.State = Failed
		st.Message = s.loadErr.Error()
	case s.table != nil:
		st.State = Loaded
		st.Rows = s.table.Nrow()
		st.Columns = s.table.Ncol()
		st.ColumnNames = s.table.Names()
		st.HasValueColumn = s.table.HasColumn(s.valueColumn)
		st.HasTimeColumn = s.table.TimeColumn() != ""
		if cols := s.table.NumericColumns(); cols != nil {
			st.NumericColumns = cols
		}
		st.ColumnKinds = s.table.Kinds()
		st.MissingValues = missingCounts(s.table)
	}
	return st
}

func missingCounts(t *dataset.Table) map[string]int {
	out := make(map[string]int, t.Ncol())
	for _, name := range t.Names() {
		missing, err := t.Missing(name)
		if err != nil {
			continue
		}
		n := 0
		for _, m := range missing {
			if m {
				n++
			}
		}
		out[name] = n
	}
	return out
}
