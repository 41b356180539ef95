package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sort"
	"strconv"
	"strings"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/rs/zerolog"
)

// EmailPlugin 邮件通知插件（对外导出）
type EmailPlugin struct {
	name     string
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
	logger   zerolog.Logger

	// send 发送原始邮件，测试时替换
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailPlugin 创建邮件插件，name为空时为"email"
func NewEmailPlugin(name string) *EmailPlugin {
	if name == "" {
		name = "email"
	}
	e := &EmailPlugin{name: name, logger: logger.Component("plugin.email")}
	e.send = e.sendMail
	return e
}

// Name 插件名称
func (e *EmailPlugin) Name() string {
	return e.name
}

// Init 初始化SMTP参数
// 必填：smtp_host、from、to（逗号分隔）；可选：smtp_port（默认25）、username、password
func (e *EmailPlugin) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
		e.smtpPort = port
	}

	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}

	e.to = e.to[:0]
	for _, addr := range strings.Split(params["to"], ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			e.to = append(e.to, addr)
		}
	}
	if len(e.to) == 0 {
		return fmt.Errorf("to参数不能为空")
	}

	e.enabled = true
	e.logger.Info().Str("smtp", e.addr()).Str("from", e.from).Strs("to", e.to).Msg("✅ 邮件插件初始化完成")
	return nil
}

// Execute 发送事件通知邮件
func (e *EmailPlugin) Execute(ctx context.Context, ev *events.Event) error {
	if !e.enabled {
		return fmt.Errorf("邮件插件未初始化")
	}

	subject := buildSubject(ev)
	msg := e.buildMessage(subject, buildBody(ev))

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}
	if err := e.send(e.addr(), auth, e.from, e.to, []byte(msg)); err != nil {
		e.logger.Error().Err(err).Str("run_id", ev.RunID).Msg("❌ 发送邮件失败")
		return err
	}

	e.logger.Info().Str("run_id", ev.RunID).Str("subject", subject).Msg("✅ 邮件发送成功")
	return nil
}

func (e *EmailPlugin) addr() string {
	return fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)
}

// buildSubject 构建邮件主题
func buildSubject(ev *events.Event) string {
	switch ev.Type {
	case events.EventApprovalRequested:
		return fmt.Sprintf("[待审批] %s - 步骤%d", ev.RunID, approvalStep(ev))
	case events.EventApprovalResolved:
		return fmt.Sprintf("[审批完成] %s - 步骤%d", ev.RunID, approvalStep(ev))
	case events.EventComplete:
		if ev.Result != nil && ev.Result.Success {
			return fmt.Sprintf("[运行完成] %s", ev.RunID)
		}
		return fmt.Sprintf("[运行结束] %s", ev.RunID)
	case events.EventError:
		return fmt.Sprintf("[运行错误] %s", ev.RunID)
	case events.EventStatus:
		return fmt.Sprintf("[状态变更] %s - %s", ev.RunID, ev.Status)
	case events.EventStep:
		if ev.Step != nil && !ev.Step.Success {
			return fmt.Sprintf("[步骤失败] %s - 步骤%d", ev.RunID, ev.Step.StepIndex)
		}
		return fmt.Sprintf("[步骤完成] %s", ev.RunID)
	default:
		return fmt.Sprintf("[系统通知] %s", ev.Type)
	}
}

func approvalStep(ev *events.Event) int {
	if ev.Approval == nil {
		return -1
	}
	return ev.Approval.StepIndex
}

// buildBody 构建邮件正文
func buildBody(ev *events.Event) string {
	var body strings.Builder
	fmt.Fprintf(&body, "事件类型: %s\n", ev.Type)
	fmt.Fprintf(&body, "运行ID: %s\n", ev.RunID)
	if ev.WorkflowID != "" {
		fmt.Fprintf(&body, "工作流ID: %s\n", ev.WorkflowID)
	}
	if ev.Status != "" {
		fmt.Fprintf(&body, "状态: %s\n", ev.Status)
	}
	fmt.Fprintf(&body, "时间: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05"))
	if ev.Step != nil {
		fmt.Fprintf(&body, "步骤: %d (%s)\n", ev.Step.StepIndex, ev.Step.WorkerID)
		if ev.Step.Error != "" {
			fmt.Fprintf(&body, "步骤错误: %s\n", ev.Step.Error)
		}
	}
	if ev.Approval != nil {
		fmt.Fprintf(&body, "审批门: %s\n", ev.Approval.GateID)
		fmt.Fprintf(&body, "审批状态: %s\n", ev.Approval.Status)
		if ev.Approval.ResolvedBy != "" {
			fmt.Fprintf(&body, "审批人: %s\n", ev.Approval.ResolvedBy)
		}
		if ev.Approval.Comment != "" {
			fmt.Fprintf(&body, "审批意见: %s\n", ev.Approval.Comment)
		}
	}
	if ev.Result != nil && ev.Result.Error != "" {
		fmt.Fprintf(&body, "错误信息: %s\n", ev.Result.Error)
	}
	if ev.Error != "" {
		fmt.Fprintf(&body, "错误信息: %s\n", ev.Error)
	}
	return body.String()
}

// buildMessage 构建邮件消息，头部按字母序输出
func (e *EmailPlugin) buildMessage(subject, body string) string {
	headers := map[string]string{
		"From":         e.from,
		"To":           strings.Join(e.to, ", "),
		"Subject":      subject,
		"Content-Type": "text/plain; charset=UTF-8",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, headers[k])
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// sendMail 465端口走隐式TLS，其余端口使用smtp.SendMail
func (e *EmailPlugin) sendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if e.smtpPort != 465 {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}
