package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/codecollab/backend/controllers"
	"github.com/codecollab/backend/database"
	"github.com/codecollab/backend/docs"
	"github.com/codecollab/backend/sandbox"
	"github.com/codecollab/backend/websocket"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Collab Code API
// @version         1.0
// @description     API Server for the collaborative coding backend
// @host            localhost:8080
// @BasePath        /
// @schemes         http
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize database
	database.Connect()
	database.Migrate()

	// Connect the execution sandbox to the Docker daemon. Run requests
	// report the engine unavailable if this fails; everything else keeps
	// working.
	if err := sandbox.Init(runTimeout()); err != nil {
		log.Printf("Execution sandbox unavailable: %v", err)
	}

	// Set up Swagger info
	docs.SwaggerInfo.Title = "Collab Code API"
	docs.SwaggerInfo.Description = "API Server for the collaborative coding backend"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:" + os.Getenv("PORT")
	if docs.SwaggerInfo.Host == "localhost:" {
		docs.SwaggerInfo.Host = "localhost:8080"
	}
	docs.SwaggerInfo.BasePath = "/"
	docs.SwaggerInfo.Schemes = []string{"http"}

	// Set up router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API routes
	api := router.Group("/api")
	{
		api.POST("/register", controllers.Register)
		api.POST("/login", controllers.Login)
		api.POST("/save", controllers.SaveDocument)
		api.GET("/load/:roomId", controllers.LoadDocument)
		api.GET("/history/:roomId", controllers.GetHistory)
	}

	// WebSocket route
	router.GET("/ws", websocket.HandleConnection)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server running on port %s", port)
	log.Printf("Swagger documentation available at http://localhost:%s/swagger/index.html", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runTimeout reads the execution wall-clock limit from RUN_TIMEOUT (seconds),
// defaulting to 5.
func runTimeout() time.Duration {
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		log.Printf("Invalid RUN_TIMEOUT %q, using default", v)
	}
	return 5 * time.Second
}
