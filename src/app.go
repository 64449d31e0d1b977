package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SalesInsight/src/api"
	"SalesInsight/src/config"
	"SalesInsight/src/datasource/email"
	"SalesInsight/src/datasource/file"
	"SalesInsight/src/processor"
	"SalesInsight/src/render"
	"SalesInsight/src/session"
	"SalesInsight/src/storage"

	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
)

const monitorDebounce = 500 * time.Millisecond

// app 组装日志, 会话, 定时任务和 HTTP 服务
type app struct {
	cfg     *config.Config
	dcfg    *config.DataConfig
	logger  *storage.Logger
	session *session.Session
	cron    *cron.Cron
	server  *http.Server
}

func newApp(cfg *config.Config, dcfg *config.DataConfig) (*app, error) {
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	sess := session.New(file.OptionsFrom(dcfg), dcfg.ValueColumn)
	// 没有默认数据集时会话保持为空, 等待上传
	if _, err := os.Stat(dcfg.DefaultPath); err != nil {
		logger.Warningf("默认数据集不存在: %v", err)
	} else if err := sess.LoadFile(dcfg.DefaultPath); err != nil {
		logger.Warningf("默认数据集加载失败: %v", err)
	} else {
		st := sess.Status()
		logger.Infof("默认数据集已加载: %s (%d 行, %d 列)", st.Source, st.Rows, st.Columns)
	}

	a := &app{cfg: cfg, dcfg: dcfg, logger: logger, session: sess}
	if a.cron, err = a.schedule(); err != nil {
		_ = logger.Close()
		return nil, err
	}

	handler := api.NewServer(sess, logger, render.New(cfg.Chart.Width, cfg.Chart.Height), apiOptions(cfg, dcfg))
	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logger, "", 0),
	}
	return a, nil
}

func apiOptions(cfg *config.Config, dcfg *config.DataConfig) api.Options {
	proj := processor.DefaultProjectionOptions()
	proj.Components = cfg.Projection.Components
	proj.Clusters = cfg.Projection.Clusters
	proj.Seed = cfg.Projection.Seed
	proj.NInit = cfg.Projection.NInit
	proj.MaxIter = cfg.Projection.MaxIter

	return api.Options{
		ValueColumn:    dcfg.ValueColumn,
		TimeColumn:     dcfg.TimeColumn,
		HistogramBins:  cfg.Chart.HistogramBins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Projection:     proj,
	}
}

// schedule 注册日志轮转和邮箱轮询任务, 返回未启动的 cron
func (a *app) schedule() (*cron.Cron, error) {
	c := cron.New()

	rotateSpec := fmt.Sprintf("@every %s", a.cfg.RotateInterval.Std())
	if err := c.AddFunc(rotateSpec, func() {
		if err := a.logger.CheckRotate(a.cfg.LogMaxSize); err != nil {
			a.logger.Errorf("日志轮转失败: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("创建日志轮转任务失败: %w", err)
	}

	if a.cfg.Email.Server == "" {
		return c, nil
	}

	client := email.NewEmailClient(a.cfg.Email.Server, a.cfg.Email.Username, a.cfg.Email.Password, a.logger)
	handler := email.NewAttachmentHandler(a.cfg.Email.TargetSubject, a.session, a.logger)
	mailSpec := fmt.Sprintf("@every %s", a.cfg.Email.CheckInterval.Std())
	if err := c.AddFunc(mailSpec, func() {
		if err := email.CheckAndProcessEmails(client, handler, a.logger); err != nil {
			a.logger.Errorf("检查处理邮件失败: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("创建邮件检查任务失败: %w", err)
	}
	a.logger.Infof("邮件监控已启用(检查间隔: %v)", a.cfg.Email.CheckInterval.Std())
	return c, nil
}

// run 阻塞直到 ctx 结束或服务出错
func (a *app) run(ctx context.Context) error {
	a.cron.Start()
	defer a.cron.Stop()

	g, gctx := errgroup.WithContext(ctx)
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	if a.dcfg.Watch {
		monitor, err := file.NewFileMonitor(a.dcfg.DefaultPath, monitorDebounce)
		if err != nil {
			a.logger.Warningf("无法监控默认数据文件: %v", err)
		} else {
			g.Go(func() error {
				err := monitor.Watch(gctx, func(path string) {
					if err := a.session.LoadFile(path); err != nil {
						a.logger.Errorf("重新加载数据集失败: %v", err)
						return
					}
					a.logger.Infof("数据文件已变化, 重新加载: %s", path)
				})
				if err != nil {
					a.logger.Errorf("文件监控已停止: %v", err)
				}
				return nil
			})
		}
	}

	// SIGHUP 时重新打开日志文件, 配合外部 logrotate
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := a.logger.Reopen(); err != nil {
					a.logger.Errorf("重新打开日志失败: %v", err)
				}
			}
		}
	})

	g.Go(func() error {
		a.logger.Infof("HTTP服务已启动: %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务异常: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		a.logger.Info("正在关闭HTTP服务...")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) close() {
	_ = a.logger.Close()
}
