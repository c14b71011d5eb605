package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/client/connectivity"
	"deptportal/backend/internal/client/fetch"
	"deptportal/backend/internal/client/kvstore"
	"deptportal/backend/internal/client/session"
	"deptportal/backend/internal/client/syncer"
	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/logger"
)

// localSchema 客户端本地存储模式。
// 版本只增不减，新集合通过加版本号追加。
func localSchema() kvstore.Schema {
	return kvstore.Schema{
		Version: 1,
		Collections: []kvstore.CollectionSpec{
			fetch.InboxCollectionSpec(),
			syncer.DraftCollectionSpec(),
			syncer.AttachmentCollectionSpec(),
			session.CollectionSpec(),
		},
	}
}

// main 部门终端代理：离线可用的收发文命令行工具。
func main() {
	var (
		serverURL = flag.String("server", envOr("DEPTPORTAL_AGENT_SERVER", "http://localhost:8080"), "服务端地址")
		dataDir   = flag.String("data", envOr("DEPTPORTAL_AGENT_DATA", "./data/agent"), "本地数据目录")
		verbose   = flag.Bool("v", false, "输出调试日志")
	)
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.Must(level, true)
	defer log.Sync()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	store, err := kvstore.Open(*dataDir, localSchema())
	if err != nil {
		// 本地存储坏掉时降级为纯在线模式
		log.Warn("local storage unavailable, running online-only", zap.Error(err))
		store = nil
	}

	monitor := connectivity.NewMonitor(log)
	client := fetch.NewClient(*serverURL, store, monitor, log)

	var sessions *session.Manager
	var engine *syncer.Engine
	if store != nil {
		sessions = session.NewManager(store, client, log)
		engine = syncer.NewEngine(store, client, monitor, log)
	}

	// watch 是常驻命令，随信号退出；其余命令限时完成
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if args[0] == "watch" {
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	} else {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	}
	defer cancel()

	if err := run(ctx, args, client, sessions, engine, store); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, client *fetch.Client, sessions *session.Manager, engine *syncer.Engine, store *kvstore.Store) error {
	command := args[0]

	// 除 login/logout 外的命令先恢复会话
	if command != "login" && command != "logout" && sessions != nil {
		if _, err := sessions.Resume(ctx); err != nil {
			if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrSessionExpired) {
				return fmt.Errorf("请先登录: agent login <部门编号> <口令>")
			}
			return err
		}
	}

	switch command {
	case "login":
		return cmdLogin(ctx, args[1:], client, sessions)
	case "inbox":
		return cmdInbox(ctx, client)
	case "outbox":
		return cmdOutbox(ctx, client)
	case "read":
		return cmdRead(ctx, args[1:], client)
	case "send":
		return cmdSend(ctx, args[1:], engine)
	case "drafts":
		return cmdDrafts(engine)
	case "retry":
		return cmdRetry(ctx, args[1:], engine)
	case "sync":
		return cmdSync(ctx, engine)
	case "watch":
		return cmdWatch(ctx, engine)
	case "logout":
		return cmdLogout(sessions, store)
	case "attach":
		return cmdAttach(args[1:], engine)
	default:
		usage()
		return fmt.Errorf("未知命令: %s", command)
	}
}

// ========== 命令实现 ==========

func cmdLogin(ctx context.Context, args []string, client *fetch.Client, sessions *session.Manager) error {
	if len(args) < 2 {
		return errors.New("用法: agent login <部门编号> <口令>")
	}
	departmentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("部门编号无效: %s", args[0])
	}

	tokens, err := client.Login(ctx, departmentID, args[1])
	if err != nil {
		return err
	}

	if sessions != nil {
		err = sessions.Save(&session.Session{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			DepartmentID: tokens.DepartmentID,
			Role:         tokens.Role,
		})
		if err != nil {
			return err
		}
	}

	fmt.Println("登录成功")
	return nil
}

func cmdInbox(ctx context.Context, client *fetch.Client) error {
	messages, err := client.Inbox(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println("收文箱为空")
		return nil
	}
	for _, m := range messages {
		marker := " "
		if !m.IsRead {
			marker = "*"
		}
		fmt.Printf("%s %6d  [%s]  %s\n", marker, m.ID, m.CreatedAt, m.Subject)
	}
	return nil
}

func cmdOutbox(ctx context.Context, client *fetch.Client) error {
	messages, err := client.Outbox(ctx)
	if err != nil {
		return err
	}
	for _, m := range messages {
		fmt.Printf("  %6d  [%s]  %s\n", m.ID, m.CreatedAt, m.Subject)
	}
	return nil
}

func cmdRead(ctx context.Context, args []string, client *fetch.Client) error {
	if len(args) < 1 {
		return errors.New("用法: agent read <消息编号>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("消息编号无效: %s", args[0])
	}

	message, err := client.Message(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("主题: %s\n发文: %d\n时间: %s\n\n%s\n", message.Subject, message.SenderID, message.CreatedAt, message.Content)

	if err := client.MarkRead(ctx, id); err != nil {
		// 标记已读失败不影响阅读
		fmt.Fprintln(os.Stderr, "已读标记失败:", err)
	}
	return nil
}

func cmdSend(ctx context.Context, args []string, engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用，无法排队草稿")
	}

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	to := fs.String("to", "", "收文部门编号，多部门用逗号分隔，broadcast 表示全体")
	subject := fs.String("subject", "", "主题")
	content := fs.String("content", "", "正文")
	docNumber := fs.String("doc", "", "文号")
	attach := fs.String("attach", "", "附件编号（attach 命令返回），多个用逗号分隔")
	if err := fs.Parse(args); err != nil {
		return err
	}

	draft := &domain.DraftMessage{
		Subject:        *subject,
		Content:        *content,
		DocumentNumber: *docNumber,
	}
	if *attach != "" {
		for _, part := range strings.Split(*attach, ",") {
			draft.AttachmentBlobIDs = append(draft.AttachmentBlobIDs, strings.TrimSpace(part))
		}
	}

	switch {
	case *to == "broadcast":
		draft.AddressingMode = domain.AddressingBroadcast
	case strings.Contains(*to, ","):
		draft.AddressingMode = domain.AddressingMulti
		for _, part := range strings.Split(*to, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return fmt.Errorf("收文部门编号无效: %s", part)
			}
			draft.RecipientIDs = append(draft.RecipientIDs, id)
		}
	case *to != "":
		id, err := strconv.ParseInt(*to, 10, 64)
		if err != nil {
			return fmt.Errorf("收文部门编号无效: %s", *to)
		}
		draft.AddressingMode = domain.AddressingSingle
		draft.RecipientIDs = []int64{id}
	default:
		return errors.New("必须指定 -to")
	}

	if err := engine.SaveDraft(draft); err != nil {
		return err
	}
	fmt.Println("草稿已排队:", draft.ID)

	// 入队后立刻尝试一轮同步，失败留在队列里等重连
	synced, err := engine.SyncAll(ctx)
	if err != nil {
		fmt.Println("暂时无法发送，草稿保留在本地队列")
		return nil
	}
	if synced > 0 {
		fmt.Println("已发送")
	}
	return nil
}

func cmdAttach(args []string, engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用，无法暂存附件")
	}
	if len(args) < 1 {
		return errors.New("用法: agent attach <文件路径>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("读取附件失败: %w", err)
	}

	id, err := engine.SaveAttachment(filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	fmt.Println("附件已暂存:", id)
	return nil
}

func cmdLogout(sessions *session.Manager, store *kvstore.Store) error {
	if sessions != nil {
		if err := sessions.Clear(); err != nil {
			return err
		}
	}
	if store == nil {
		return nil
	}

	// 登出清空全部本地集合，缓存和未发送的草稿都不留
	for _, collection := range []string{
		fetch.InboxCollection,
		syncer.DraftCollection,
		syncer.AttachmentCollection,
	} {
		if err := store.Clear(collection); err != nil {
			return err
		}
	}
	fmt.Println("已登出，本地缓存已清空")
	return nil
}

func cmdDrafts(engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用")
	}
	drafts, err := engine.Drafts()
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		fmt.Println("草稿队列为空")
		return nil
	}
	for _, d := range drafts {
		fmt.Printf("  %s  [%s]  %s", d.ID, d.SyncStatus, d.Subject)
		if d.ErrorMessage != "" {
			fmt.Printf("  (%s)", d.ErrorMessage)
		}
		fmt.Println()
	}
	return nil
}

func cmdRetry(ctx context.Context, args []string, engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用")
	}
	if len(args) < 1 {
		return errors.New("用法: agent retry <草稿编号>")
	}
	if err := engine.RetryDraft(args[0]); err != nil {
		return err
	}
	_, err := engine.SyncAll(ctx)
	return err
}

func cmdSync(ctx context.Context, engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用")
	}
	synced, err := engine.SyncAll(ctx)
	fmt.Printf("本轮同步 %d 条\n", synced)
	return err
}

func cmdWatch(ctx context.Context, engine *syncer.Engine) error {
	if engine == nil {
		return errors.New("本地存储不可用")
	}

	// 先补一轮，再守着重新上线的边沿自动同步
	if synced, err := engine.SyncAll(ctx); err == nil && synced > 0 {
		fmt.Printf("本轮同步 %d 条\n", synced)
	}

	fmt.Println("守候中，重新上线时自动同步草稿队列 (Ctrl+C 退出)")
	engine.Run(ctx)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `用法: agent [选项] <命令>

命令:
  login <部门编号> <口令>   登录
  inbox                     收文箱（离线时显示本地缓存）
  outbox                    发文箱
  read <消息编号>           阅读并标记已读
  send -to ... -subject ... -content ...   排队并发送
  attach <文件路径>         暂存附件，返回可供 send -attach 引用的编号
  drafts                    本地草稿队列
  retry <草稿编号>          重试失败的草稿
  sync                      手动触发一轮同步
  watch                     常驻守候，重新上线时自动同步
  logout                    清除本地会话与全部缓存`)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
