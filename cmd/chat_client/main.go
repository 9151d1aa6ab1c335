package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meowchat_client/internal/chat/app"
	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	"meowchat_client/pkg/config"
	"meowchat_client/pkg/database"
	"meowchat_client/pkg/logger"
	"meowchat_client/pkg/token"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// headless chat client: 登入後切到預設聊天室, 把每次 state 變動寫進 log
func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatClient, config.EnvConfig.ChatClientLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.Client](config.EnvConfig.ChatClient, config.EnvConfig.ChatClientYAMLPath)
	if err != nil {
		logger.Log.Fatal("load config", zap.Error(err))
	}
	cfg.Defaults()
	logger.Log.SetDebugMode(cfg.Debug)

	fxApp := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Log.Zap()}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Supply(&cfg),
		fx.Provide(
			newSession,
			newRestClient,
			repository.NewRestMessageRepository,
			repository.NewRestMemberRepository,
			repository.NewRestRoomRepository,
			repository.NewRestUserRepository,
			newHistoryRepository,
			newEventChannel,
			newStores,
			newCoordinator,
		),
		fx.Invoke(run),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fxApp.Start(ctx); err != nil {
		logger.Log.Fatal("start chat client", zap.Error(err))
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		logger.Log.Error("stop chat client", zap.Error(err))
	}
}

// session 登入後拿到的 token, 自己的 user id 從 claims 取
type session struct {
	Token string
	Self  domain.User
}

func newSession(cfg *config.Client) (*session, error) {
	claims, err := token.ParseSession(cfg.Session.Token, time.Now())
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	return &session{Token: cfg.Session.Token, Self: domain.User{ID: claims.MemberID, Status: domain.UserStatusOnline}}, nil
}

func newRestClient(cfg *config.Client, s *session) *repository.RestClient {
	return repository.NewRestClient(cfg.API.BaseURL, cfg.API.Timeout, s.Token)
}

func newHistoryRepository(lc fx.Lifecycle, cfg *config.Client, rest *repository.RestMessageRepository) (repository.HistoryRepository, error) {
	switch cfg.History.Source {
	case "rest":
		return rest, nil
	case "mongo":
	default:
		return nil, fmt.Errorf("unknown history source %q", cfg.History.Source)
	}

	uri := database.MongoURI(cfg.MongoSQL.Host, cfg.MongoSQL.Port, cfg.MongoSQL.User, cfg.MongoSQL.Password)
	mongo, err := database.NewMongoDB(context.Background(), database.Connection{
		ConnectStr:    uri,
		RetryCount:    cfg.MongoSQL.RetryCount,
		RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
	}, cfg.MongoSQL.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: mongo.Close})
	logger.Log.Info("history read from mongo", zap.String("database", cfg.MongoSQL.Database))
	return repository.NewMongoHistoryRepository(mongo.Database), nil
}

// newEventChannel session 共用的一條 channel, 關閉由 Coordinator.Logout 負責
func newEventChannel(lc fx.Lifecycle, cfg *config.Client, s *session) (repository.EventChannel, error) {
	switch cfg.Socket.Kind {
	case "websocket":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Socket.HandshakeTimeout)
		defer cancel()
		ws, err := repository.DialWebsocket(ctx, repository.WebsocketOptions{
			URL:              cfg.Socket.URL,
			Token:            s.Token,
			HandshakeTimeout: cfg.Socket.HandshakeTimeout,
			WriteTimeout:     cfg.Socket.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		return ws, nil
	case "redis":
		rdb, err := database.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.RedisDB)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return rdb.Close() }})
		return repository.NewRedisEventChannel(rdb, repository.DefaultEventsChannel), nil
	}
	return nil, fmt.Errorf("unknown socket kind %q", cfg.Socket.Kind)
}

type storeParams struct {
	fx.In

	Config   *config.Client
	History  repository.HistoryRepository
	Messages *repository.RestMessageRepository
	Members  repository.MemberRepository
	Rooms    repository.RoomRepository
	Users    repository.UserRepository
}

func newStores(p storeParams) (app.Stores, error) {
	loc, err := p.Config.Location()
	if err != nil {
		return app.Stores{}, fmt.Errorf("timezone: %w", err)
	}
	return app.Stores{
		Messages: app.NewMessageStore(p.History, p.Messages, loc),
		Members:  app.NewMemberStore(p.Members, time.Now),
		Rooms:    app.NewRoomStore(p.Rooms),
		Users:    app.NewUserDirectory(p.Users),
	}, nil
}

func newCoordinator(cfg *config.Client, s *session, stores app.Stores, channel repository.EventChannel) *app.Coordinator {
	return app.NewCoordinator(s.Self, stores, channel, cfg.Sync.ReplayBuffer)
}

func run(lc fx.Lifecycle, c *app.Coordinator) {
	c.OnChange(func(kind domain.ChangeKind) {
		logChange(c, kind)
	})

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Subscribe 的 ctx 要活到整個 session 結束, 不能用 OnStart 的 ctx
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			return c.Login(ctx)
		},
		OnStop: func(ctx context.Context) error {
			defer cancel()
			return c.Logout(ctx)
		},
	})
}

func logChange(c *app.Coordinator, kind domain.ChangeKind) {
	stores := c.Stores()
	switch kind {
	case domain.ChangeMessages:
		groups := stores.Messages.GroupByDate()
		logger.Log.Info("messages", zap.String("chatroom_id", stores.Messages.ChatroomID()), zap.Int("days", len(groups)),
			zap.Int("count", len(stores.Messages.Messages())))
	case domain.ChangeChatrooms:
		active, _ := stores.Rooms.Active()
		logger.Log.Info("chatrooms", zap.String("active", active.ID), zap.Int("global", len(stores.Rooms.Global())),
			zap.Int("group", len(stores.Rooms.Groups())), zap.Int("private", len(stores.Rooms.Private())))
	case domain.ChangeMembers:
		if active, ok := stores.Rooms.Active(); ok {
			logger.Log.Info("unread", zap.String("chatroom_id", active.ID), zap.Int("count", stores.Members.UnreadCount(active.ID)))
		}
	case domain.ChangeInvite:
		for _, inv := range c.PendingInvites() {
			logger.Log.Info("pending invite", zap.String("chatroom_id", inv.Chatroom.ID), zap.String("inviter", inv.Inviter.ID))
		}
	default:
		logger.Log.Debug("state changed", zap.String("kind", string(kind)))
	}
}
