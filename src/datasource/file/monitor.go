// monitor.go
package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监控默认数据文件, 文件被写入或重新创建时 (去抖后) 调用回调
type FileMonitor struct {
	target   string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	mu       sync.Mutex
	timer    *time.Timer
}

// NewFileMonitor 监控 path 所在目录. 直接监控目录以便覆盖 "写临时文件再重命名" 的保存方式.
func NewFileMonitor(path string, debounce time.Duration) (*FileMonitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("监控目录失败: %w", err)
	}

	return &FileMonitor{
		target:   abs,
		watcher:  watcher,
		debounce: debounce,
	}, nil
}

// Watch 阻塞直到 ctx 结束或 watcher 出错
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	defer m.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != m.target {
				continue
			}
			m.schedule(handler)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (m *FileMonitor) schedule(handler func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() { handler(m.target) })
}

func (m *FileMonitor) stop() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	_ = m.watcher.Close()
}
