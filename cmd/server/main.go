// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dalo-chat-go/internal/config"
	"dalo-chat-go/internal/handler"
	"dalo-chat-go/internal/middleware"
	"dalo-chat-go/internal/model"
	"dalo-chat-go/internal/repository"
	"dalo-chat-go/internal/service"
	"dalo-chat-go/pkg/database"
	"dalo-chat-go/pkg/hash"
	"dalo-chat-go/pkg/log"
	"dalo-chat-go/pkg/ollama"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Chat{}, &model.Message{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	lockTTL := time.Duration(cfg.Chat.StreamLockTTLSec) * time.Second
	lockRepo := repository.NewStreamLockRepository(database.RDB, lockTTL)

	// 5. 初始化 Service (依赖注入)
	gateway := ollama.NewClient(cfg.Ollama)
	chatService := service.NewChatService(chatRepo, messageRepo, gateway)
	streamService := service.NewStreamService(chatRepo, messageRepo, lockRepo, gateway)

	// 6. 写入默认用户：本系统无认证，所有会话归属该用户
	defaultUser := seedDefaultUser(userRepo, cfg.Chat.SeedUser)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.CORS(), middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		chatHandler := handler.NewChatHandler(chatService, streamService, defaultUser.ID)
		chat := apiV1.Group("/chat")
		{
			chat.GET("", chatHandler.GetChats)
			chat.POST("", chatHandler.CreateChat)
			chat.GET("/health", chatHandler.HealthCheck)
			chat.GET("/:id/messages", chatHandler.GetMessages)
			chat.POST("/:id/message", chatHandler.StreamMessage)
			chat.DELETE("/:id", chatHandler.DeleteChat)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机。
	// 写超时保持为零：SSE 流的持续时间由模型决定，不允许被服务器切断。
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		IdleTimeout: time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// seedDefaultUser 确保默认用户存在（幂等），返回该用户。
func seedDefaultUser(userRepo repository.UserRepository, seed config.SeedConfig) *model.User {
	email := seed.Email
	if email == "" {
		email = "test@example.com"
	}

	user, err := userRepo.FindByEmail(email)
	if err != nil {
		log.Fatal("查找默认用户失败", err)
	}
	if user != nil {
		return user
	}

	name := seed.Name
	if name == "" {
		name = "Test User"
	}
	password := seed.Password
	if password == "" {
		password = "123456"
	}
	hashed, err := hash.HashPassword(password)
	if err != nil {
		log.Fatal("默认用户密码哈希失败", err)
	}

	user = &model.User{Email: email, Name: name, Password: hashed}
	if err := userRepo.Create(user); err != nil {
		log.Fatal("创建默认用户失败", err)
	}
	log.Infof("已创建默认用户: %s", email)
	return user
}
