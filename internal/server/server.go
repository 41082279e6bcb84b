package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"collabboard-backend/internal/config"
	"collabboard-backend/internal/database"
	"collabboard-backend/internal/handler"
	"collabboard-backend/internal/pull"
	"collabboard-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	dbm             *database.Manager
	drawingHandler  *handler.DrawingHandler
	instanceHandler *handler.InstanceHandler
	dataHandler     *handler.DataHandler
	healthHandler   *handler.HealthHandler
	collabHub       *handler.CollabHub
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, dbm *database.Manager, st *store.Store) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "Collabboard",
		ServerHeader:  "Fiber",
		StrictRouting: false,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // WebSocket과 호환성 문제로 비활성화
		BodyLimit:     cfg.Server.BodyLimit,
	})

	orchestrator := pull.New(st, dbm, cfg.Data.Dir, cfg.Pull.FetchTimeout)

	return &Server{
		app:             app,
		cfg:             cfg,
		dbm:             dbm,
		drawingHandler:  handler.NewDrawingHandler(st),
		instanceHandler: handler.NewInstanceHandler(st),
		dataHandler:     handler.NewDataHandler(cfg.Data.Dir, dbm, orchestrator),
		healthHandler:   handler.NewHealthHandler(dbm),
		collabHub:       handler.NewCollabHub(),
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)

	// 루트는 드로잉 목록으로
	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/api/drawings")
	})

	// Rate Limiter (데이터 관리 엔드포인트용 - 복원은 파괴적 작업)
	dataLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// 데이터 관리 라우트
	s.app.Get("/export-data", s.dataHandler.ExportData)
	s.app.Post("/import-data", dataLimiter, s.dataHandler.ImportData)
	s.app.Post("/start-pull/:instanceId", dataLimiter, s.dataHandler.StartPull)
	s.app.Get("/pull-status", s.dataHandler.PullStatus)
	s.app.Get("/api/pull-status", s.dataHandler.PullStatus)

	// Drawing 라우트 그룹
	drawingGroup := s.app.Group("/api/drawings")
	drawingGroup.Get("", s.drawingHandler.ListDrawings)
	drawingGroup.Post("", s.drawingHandler.CreateDrawing)
	drawingGroup.Get("/:id", s.drawingHandler.GetDrawing)
	drawingGroup.Post("/:id", s.drawingHandler.SaveDrawing)

	// Instance 라우트 그룹
	instanceGroup := s.app.Group("/api/instances")
	instanceGroup.Get("", s.instanceHandler.ListInstances)
	instanceGroup.Post("", s.instanceHandler.AddInstance)
	instanceGroup.Delete("/:id", s.instanceHandler.DeleteInstance)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 협업 엔드포인트
	s.app.Get("/ws/collab", websocket.New(s.collabHub.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Collabboard starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/collab", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
