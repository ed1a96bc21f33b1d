package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tollgate-labs/x402/middleware"
)

func main() {
	configPath := flag.String("config", "cmd/gateserver/config.yaml", "Path to config file")
	flag.Parse()

	fc, err := middleware.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	m, err := middleware.New(fc.Config())
	if err != nil {
		log.Fatalf("Failed to build payment middleware: %v", err)
	}

	router := gin.Default()
	router.Use(m.Handler())

	router.GET("/weather", func(c *gin.Context) {
		payer := "unknown"
		if vr, ok := middleware.VerifyResponseFromContext(c); ok {
			payer = vr.Payer
		}
		c.JSON(http.StatusOK, gin.H{
			"weather": "sunny",
			"temp_c":  21,
			"payer":   payer,
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	listen := fc.Listen
	if listen == "" {
		listen = ":4021"
	}

	log.Printf("Gateway listening on %s", listen)
	if err := router.Run(listen); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
