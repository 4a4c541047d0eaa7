package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"review_server/server/common/infra/cache"
	"review_server/server/common/infra/db"
	"review_server/server/common/infra/mq"
	"review_server/server/common/infra/object"
	commonlog "review_server/server/common/log"
	"review_server/server/common/middleware"
	"review_server/server/review/api"
	"review_server/server/review/domain"
	"review_server/server/review/migrations"
	"review_server/server/review/repository"
	"review_server/server/review/service"
)

type Server struct {
	HTTPServer *http.Server
	Hub        *service.Hub
	DB         *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.TopicPublisher

	stopHub context.CancelFunc
}

// reviewStore is satisfied by both the Postgres and the in-memory repository.
type reviewStore interface {
	Ping(ctx context.Context) error
	CreateProject(ctx context.Context, item domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateFile(ctx context.Context, item domain.File) (domain.File, error)
	GetFile(ctx context.Context, fileID string) (domain.File, error)
	ListFilesByProject(ctx context.Context, projectID string) ([]domain.File, error)
	CreateComment(ctx context.Context, item domain.Comment) (domain.Comment, error)
	CreateOverlay(ctx context.Context, item domain.Overlay) (domain.Overlay, error)
	ListCommentsByFile(ctx context.Context, fileID string) ([]domain.Comment, error)
}

var (
	_ reviewStore = (*repository.PostgresRepository)(nil)
	_ reviewStore = (*repository.MemoryRepository)(nil)
)

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hubCtx, stopHub := context.WithCancel(context.Background())
	s := &Server{Hub: service.NewHub(), stopHub: stopHub}
	go s.Hub.Run(hubCtx)

	store, err := s.openStore(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	var guard *service.RedisCommentGuard
	if cfg.UseRedis {
		s.Redis = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			s.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.Hub.UseRedis(s.Redis)
		if err := s.Hub.StartRedisSubscriber(hubCtx); err != nil {
			s.close()
			return nil, fmt.Errorf("subscribe review events: %w", err)
		}
		guard = service.NewRedisCommentGuard(s.Redis)
	}

	if cfg.UseMQ {
		s.MQConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		s.Publisher, err = mq.NewTopicPublisher(s.MQConn, cfg.MQExchange)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
	}

	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
		s.close()
		return nil, fmt.Errorf("ensure minio bucket: %w", err)
	}
	objects := object.NewStore(minioClient, cfg.MinioBucket, cfg.PublicBaseURL, cfg.PresignTTL)

	projectSvc := service.NewProjectService(store, objects, s.Hub)
	annotationSvc := service.NewAnnotationService(store, s.Hub)
	if s.Publisher != nil {
		projectSvc.UseMirror(s.Publisher)
		annotationSvc.UseMirror(s.Publisher)
	}
	if guard != nil {
		annotationSvc.UseGuard(guard)
	}
	realtimeSvc := service.NewRealtimeService(s.Hub, annotationSvc, cfg.AllowedOrigins)

	h := api.NewHandler(projectSvc, annotationSvc, realtimeSvc, int64(cfg.MaxUploadMB)<<20)
	h.UseReadiness(store.Ping)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLog(), middleware.CORS(cfg.AllowedOrigins))
	h.RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	commonlog.Infof("event=review_server action=init status=ok postgres=%t redis=%t mq=%t bucket=%s", s.DB != nil, s.Redis != nil, s.Publisher != nil, cfg.MinioBucket)
	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg Config) (reviewStore, error) {
	if cfg.PostgresDSN == "" {
		commonlog.Warnf("event=review_server action=open_store status=memory reason=POSTGRES_DSN_unset")
		return repository.NewMemoryRepository(), nil
	}
	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}
	s.DB = pool
	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return repository.NewPostgresRepository(pool), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.HTTPServer != nil {
		err = s.HTTPServer.Shutdown(ctx)
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.Hub != nil {
		s.Hub.StopRedisSubscriber()
	}
	if s.stopHub != nil {
		s.stopHub()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
