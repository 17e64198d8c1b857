package configuration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/db"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/handler"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/jobs"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/repo"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/service"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/stream"
)

// backgroundJob is what the container needs from either reaper flavor.
type backgroundJob interface {
	Start() error
	Stop()
}

type Container struct {
	Config  Config
	Logger  *zap.Logger
	Channel channel.Channel

	MessageHandler handler.MessageHandler
	CallHandler    handler.CallHandler
	MonitorHandler handler.MonitorHandler
	SSEHandler     *stream.SSEHandler
	WSHandler      *stream.WSHandler

	reaper      backgroundJob
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	con, err := db.OpenConnection(config.Mongo.Uri, config.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	// Redis gives cross-instance fan-out; without it events only reach
	// streams attached to this process.
	var ch channel.Channel
	if config.Redis.Url != "" {
		redisCh, err := channel.NewRedis(config.Redis.Url, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ch = redisCh
	} else {
		logger.Warn("no redis configured, using in-process event channel")
		ch = channel.NewMemory(logger)
	}

	conversationRepo := repo.NewConversationRepository(con, config.Mongo.ConversationsCollection, logger)
	messageRepo := repo.NewMessageRepository(con, config.Mongo.MessagesCollection, logger)
	callRepo := repo.NewCallRepository(con, config.Mongo.CallsCollection, logger)

	allocator := service.NewLiveKitAllocator(
		config.LiveKit.ApiKey,
		config.LiveKit.ApiSecret,
		time.Duration(config.LiveKit.TokenTTLMinutes)*time.Minute,
	)

	ringTimeout := time.Duration(config.Realtime.RingTimeoutSeconds) * time.Second
	heartbeat := time.Duration(config.Realtime.HeartbeatSeconds) * time.Second
	reapCadence := time.Duration(config.Realtime.ReapCadenceSeconds) * time.Second

	messageService := service.NewMessageService(conversationRepo, messageRepo, ch, logger)
	callService := service.NewCallService(conversationRepo, callRepo, ch, allocator, ringTimeout, logger)

	var reaper backgroundJob
	if config.Redis.Url != "" {
		reaper, err = jobs.NewReaper(config.Redis.Url, reapCadence, callService, logger)
		if err != nil {
			return nil, fmt.Errorf("init reaper: %w", err)
		}
	} else {
		reaper = jobs.NewTickerReaper(reapCadence, callService, logger)
	}
	if err := reaper.Start(); err != nil {
		return nil, fmt.Errorf("start reaper: %w", err)
	}

	return &Container{
		Config:         *config,
		Logger:         logger,
		Channel:        ch,
		MessageHandler: handler.NewMessageHandler(messageService, logger),
		CallHandler:    handler.NewCallHandler(callService, logger),
		MonitorHandler: handler.NewMonitorHandler(ch, callService, logger),
		SSEHandler:     stream.NewSSEHandler(ch, heartbeat, logger),
		WSHandler:      stream.NewWSHandler(ch, config.Server.AllowedOrigins, logger),
		reaper:         reaper,
		mongoClient:    con,
	}, nil
}

// Close gracefully shuts down background jobs and connections.
func (c *Container) Close() error {
	if c.reaper != nil {
		c.reaper.Stop()
	}

	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			c.Logger.Warn("event channel close failed", zap.Error(err))
		}
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("close mongo connection: %w", err)
		}
	}

	return nil
}
