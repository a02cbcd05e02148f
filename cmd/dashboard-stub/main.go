// Stand-in for the dashboard backend during local runs: answers /health and
// echoes every other request so protected routes can be exercised end to end.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

func main() {
	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "3001"
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":    "Hello from dashboard stub",
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"request_id": c.GetHeader("X-Request-ID"),
		})
	})

	log.Printf("Dashboard stub starting on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
