package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/handlers"
)

// Prints an admin token signed with admin.jwtSecret, for operators without an authenticator at hand
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	ttl := flag.Duration("ttl", 0, "token lifetime (default admin.tokenTtlMinutes)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	admin := config.AppConfig.Admin
	if *ttl == 0 {
		*ttl = time.Duration(admin.TokenTTLMin) * time.Minute
	}

	token, err := handlers.GenerateAdminToken([]byte(admin.JWTSecret), admin.Username, *ttl)
	if err != nil {
		log.Fatalf("Error generating admin token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Admin JWT Token")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  Username: %s\n", admin.Username)
	fmt.Printf("  Expires:  %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:%d/api/admin/payments/stats\n", token, config.AppConfig.Server.Port)
}
