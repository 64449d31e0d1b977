package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config 结构体定义了服务的运行配置 (config.json)
type Config struct {
	Server struct {
		Addr            string   `json:"addr"`             // HTTP监听地址
		MaxUploadBytes  int64    `json:"max_upload_bytes"` // 上传文件大小上限
		ShutdownTimeout Duration `json:"shutdown_timeout"` // 优雅退出等待时间
	} `json:"server"`

	Email struct {
		Server        string   `json:"server"`         // IMAP服务器地址, 为空时不启用邮箱数据源
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码
		TargetSubject string   `json:"target_subject"` // 需要匹配的邮件主题
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	Projection struct {
		Components int   `json:"components"`
		Clusters   int   `json:"clusters"`
		Seed       int64 `json:"seed"`
		NInit      int   `json:"n_init"`
		MaxIter    int   `json:"max_iter"`
	} `json:"projection"`

	Chart struct {
		Width         int `json:"width"`
		Height        int `json:"height"`
		HistogramBins int `json:"histogram_bins"`
	} `json:"chart"`

	LogName        string   `json:"log_name"`
	LogMaxSize     string   `json:"log_max_size"` // 例如 "10 * 1024 * 1024"
	RotateInterval Duration `json:"rotate_interval"`
}

// DataConfig 描述数据集本身: 默认文件, 指定列, 解析选项 (dataconfig.json)
type DataConfig struct {
	DefaultPath string   `json:"default_path"`
	ValueColumn string   `json:"value_column"`
	TimeColumn  string   `json:"time_column"`
	Encodings   []string `json:"encodings"`
	Delimiter   string   `json:"delimiter"` // 为空时自动探测
	SheetName   string   `json:"sheet_name"`
	HeaderRow   int      `json:"header_row"`
	Watch       bool     `json:"watch"` // 默认文件变化时自动重新加载
}

// 默认值
const (
	DefaultAddr          = ":8000"
	DefaultDataPath      = "data/sales_data_sample.csv"
	DefaultValueColumn   = "SALES"
	DefaultTimeColumn    = "ORDERDATE"
	DefaultLogName       = "app.log"
	DefaultLogMaxSize    = "10 * 1024 * 1024"
	DefaultComponents    = 3
	DefaultClusters      = 3
	DefaultSeed          = 42
	DefaultNInit         = 10
	DefaultMaxIter       = 300
	DefaultHistogramBins = 30
	MaxHistogramBins     = 1000 // 直方图箱数上限, 请求参数和配置都受它约束
)

var DefaultEncodings = []string{"utf-8", "windows-1252", "iso-8859-1"}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	loadErr            error
)

// LoadConfig 进程级单例, 只在第一次调用时读取文件
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	once.Do(func() {
		instance, dataConfigInstance, loadErr = Load(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, loadErr
}

// Load 并行读取两个配置文件并补齐默认值. 文件不存在时使用默认配置.
func Load(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configData, err := readFile(filepath.Join(jsonFolder, jsonFile))
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(filepath.Join(jsonFolder, dataJsonFile))
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	cfg.applyDefaults()
	dcfg.applyDefaults()
	return cfg, dcfg, nil
}

// Default 返回完全由默认值组成的配置
func Default() (*Config, *DataConfig) {
	cfg := &Config{}
	dcfg := &DataConfig{}
	cfg.applyDefaults()
	dcfg.applyDefaults()
	return cfg, dcfg
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, combineErrors(errs)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return errors.New(msg)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}
	if c.Email.CheckInterval <= 0 {
		c.Email.CheckInterval = Duration(5 * time.Minute)
	}
	if c.Projection.Components <= 0 {
		c.Projection.Components = DefaultComponents
	}
	if c.Projection.Clusters <= 0 {
		c.Projection.Clusters = DefaultClusters
	}
	if c.Projection.Seed == 0 {
		c.Projection.Seed = DefaultSeed
	}
	if c.Projection.NInit <= 0 {
		c.Projection.NInit = DefaultNInit
	}
	if c.Projection.MaxIter <= 0 {
		c.Projection.MaxIter = DefaultMaxIter
	}
	if c.Chart.Width <= 0 {
		c.Chart.Width = 1000
	}
	if c.Chart.Height <= 0 {
		c.Chart.Height = 500
	}
	if c.Chart.HistogramBins <= 0 {
		c.Chart.HistogramBins = DefaultHistogramBins
	}
	if c.Chart.HistogramBins > MaxHistogramBins {
		c.Chart.HistogramBins = MaxHistogramBins
	}
	if c.LogName == "" {
		c.LogName = DefaultLogName
	}
	if c.LogMaxSize == "" {
		c.LogMaxSize = DefaultLogMaxSize
	}
	if c.RotateInterval <= 0 {
		c.RotateInterval = Duration(time.Minute)
	}
}

func (dc *DataConfig) applyDefaults() {
	if dc.DefaultPath == "" {
		dc.DefaultPath = DefaultDataPath
	}
	if dc.ValueColumn == "" {
		dc.ValueColumn = DefaultValueColumn
	}
	if dc.TimeColumn == "" {
		dc.TimeColumn = DefaultTimeColumn
	}
	if len(dc.Encodings) == 0 {
		dc.Encodings = append([]string(nil), DefaultEncodings...)
	}
	if dc.HeaderRow < 0 {
		dc.HeaderRow = 0
	}
}

// Delim 返回分隔符, 0 表示自动探测
func (dc *DataConfig) Delim() rune {
	for _, r := range dc.Delimiter {
		return r
	}
	return 0
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }
