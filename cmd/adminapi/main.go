package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"

	v1 "github.com/siwaht/EchoSenseiX-sub003/api/v1"
	"github.com/siwaht/EchoSenseiX-sub003/internal/auth"
	"github.com/siwaht/EchoSenseiX-sub003/internal/cache"
	"github.com/siwaht/EchoSenseiX-sub003/internal/config"
	"github.com/siwaht/EchoSenseiX-sub003/internal/db"
	"github.com/siwaht/EchoSenseiX-sub003/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
		os.Exit(1)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3. Run migrations if requested
	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
			os.Exit(1)
		}
	}

	// 4. Initialize Redis (degraded mode without it: subscriber resolution
	// falls back to the database)
	if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Printf("⚠ Redis unavailable, subscriber cache disabled: %v", err)
	} else {
		defer cache.Close()
	}

	// 5. Initialize JWT
	auth.InitJWT(cfg.JWT.Secret)

	// 6. Initialize Socket.IO server for dashboard live updates
	if err := ws.InitServer(); err != nil {
		log.Fatalf("Failed to initialize WebSocket server: %v", err)
		os.Exit(1)
	}

	// 7. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// Setup API v1 routes
	v1.SetupRouter(r, db.GetDB(), cfg)

	// Socket.IO endpoint (JWT-authenticated handshake)
	wsHandler := ws.WrapWithAuth(ws.Server)
	r.GET("/socket.io/*any", gin.WrapH(wsHandler))
	r.POST("/socket.io/*any", gin.WrapH(wsHandler))

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
