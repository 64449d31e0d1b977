// email_handler.go
package email

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"SalesInsight/src/storage"
)

// Loader 接收附件内容的数据集加载器, 由 session.Session 实现
type Loader interface {
	Load(data []byte, name string) error
}

// ====================== 邮件处理器实现 ======================

// AttachmentHandler 把目标邮件中的 csv/xlsx 附件交给 Loader, 每个 UID 只处理一次
type AttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	loader        Loader          // 数据集加载器
	logger        *storage.Logger // 日志
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentHandler(subject string, loader Loader, logger *storage.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		loader:        loader,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 加载邮件中的第一个数据附件. 返回是否执行了加载.
// 加载失败的邮件同样记为已处理, 不会在下一轮重试.
func (h *AttachmentHandler) Handle(email *Email) (bool, error) {
	if h.IsProcessed(email.UID) {
		return false, nil
	}

	att := dataAttachment(email)
	if att == nil {
		return false, nil
	}
	h.markAsProcessed(email.UID)

	h.logger.Infof("处理邮件: %s 发件人: %s 日期: %s 附件: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05"), att.Filename)

	if err := h.loader.Load(att.Content, att.Filename); err != nil {
		return true, fmt.Errorf("加载附件失败(UID:%d): %w", email.UID, err)
	}
	return true, nil
}

// dataAttachment 返回第一个 .csv 或 .xlsx 附件
func dataAttachment(email *Email) *Attachment {
	for _, a := range email.Attachments {
		switch strings.ToLower(filepath.Ext(a.Filename)) {
		case ".csv", ".xlsx":
			return a
		}
	}
	return nil
}

/******************** 业务逻辑函数 ********************/

// CheckAndProcessEmails 邮件处理主流程: 连接, 获取未读邮件, 选出最新的目标邮件并加载
func CheckAndProcessEmails(mailService MailService, handler *AttachmentHandler, logger *storage.Logger) error {
	startTime := time.Now()
	logger.Info("开始检查邮箱...")

	if err := mailService.Connect(); err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer mailService.Disconnect() // 确保连接关闭

	emails, err := mailService.FetchUnreadEmails()
	if err != nil {
		return fmt.Errorf("获取邮件失败: %w", err)
	}
	if len(emails) == 0 {
		logger.Info("没有新邮件")
		return nil
	}

	target := filterLatestTargetEmail(emails, handler.TargetSubject)
	if target == nil {
		logger.Info("没有目标邮件")
		return nil
	}

	loaded, err := handler.Handle(target)
	if err != nil {
		return err
	}
	if loaded {
		logger.Infof("处理完成，耗时: %v", time.Since(startTime))
	}
	return nil
}

// filterLatestTargetEmail 主题包含关键词且带数据附件的邮件中最新的一封
func filterLatestTargetEmail(emails []*Email, keyword string) *Email {
	var targetEmails []*Email
	for _, email := range emails {
		if strings.Contains(email.Subject, keyword) && dataAttachment(email) != nil {
			targetEmails = append(targetEmails, email)
		}
	}

	if len(targetEmails) == 0 {
		return nil
	}

	// 按日期降序排序
	sort.SliceStable(targetEmails, func(i, j int) bool {
		return targetEmails[i].Date.After(targetEmails[j].Date)
	})

	return targetEmails[0]
}
