package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/handlers"
)

// Prints a user token for exercising the payment API locally
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	userID := flag.Int64("user", 1, "user id carried by the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	auth := config.AppConfig.Auth

	token, err := handlers.GenerateUserToken([]byte(auth.JWTSecret), auth.Issuer, *userID, *ttl)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("User JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  User ID: %d\n", *userID)
	fmt.Printf("  Expires: %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:%d/api/payments/intents/pending\n", token, config.AppConfig.Server.Port)
}
