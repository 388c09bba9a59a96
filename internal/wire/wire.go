package wire

import (
	"Murmur/internal/api"
	"Murmur/internal/api/config"
	"Murmur/internal/api/handler"
	"Murmur/internal/job"
	"Murmur/internal/pkg/cron"
	"Murmur/internal/pkg/kafka"
	pkgmongo "Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"Murmur/internal/service"
	"Murmur/internal/ws"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router       *gin.Engine
	DB           *gorm.DB
	Hub          *ws.Hub
	Producer     kafka.Producer
	KafkaManager *kafka.ConsumerManager
	CronMgr      *cron.Manager
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	userRepo := repository.NewUserRepo(db)
	convRepo := repository.NewConversationRepo(db)
	messageRepo := pkgmongo.NewMessageRepo(mongoDB)
	notifyRepo := pkgmongo.NewNotificationRepo(mongoDB)

	bus := ws.NewRedisBus()
	presenceStore := service.NewPresenceStore(userRepo)
	hub := ws.NewHub(bus, presenceStore, time.Duration(cfg.Chat.TypingTimeoutMs)*time.Millisecond)

	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}

	userService := service.NewUserService(userRepo)
	imService := service.NewIMService(convRepo, userRepo, messageRepo, bus, producer)
	notifyService := service.NewNotificationService(notifyRepo, userRepo)

	handlers := &api.HandlersGroup{
		UserHandler:         handler.NewUserHandler(userService),
		IMHandler:           handler.NewIMHandler(imService),
		WSHandler:           handler.NewWsHandler(hub, imService, userRepo),
		NotificationHandler: handler.NewNotificationHandler(notifyService),
	}

	router := api.SetupRouter(handlers)

	kafkaMgr, err := kafka.NewConsumerManager(cfg, notifyRepo)
	if err != nil {
		return nil, err
	}

	presenceSweepJob := job.NewPresenceSweepJob(userRepo)
	cronMgr := cron.NewCronManager(presenceSweepJob)

	return &ApplicationContainer{
		Router:       router,
		DB:           db,
		Hub:          hub,
		Producer:     producer,
		KafkaManager: kafkaMgr,
		CronMgr:      cronMgr,
	}, nil
}
