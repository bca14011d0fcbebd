package main

import (
	"flag"
	"fmt"
	"log"

	"autopay-backend/internal/handlers"
)

// Prints a fresh TOTP secret for admin login and, with -password, the bcrypt hash for admin.passwordHash
func main() {
	account := flag.String("account", "admin", "account name shown in the authenticator app")
	password := flag.String("password", "", "admin password to hash")
	flag.Parse()

	key, err := handlers.NewTOTPKey(*account)
	if err != nil {
		log.Fatalf("Failed to generate TOTP secret: %v", err)
	}

	fmt.Println("🔐 Admin TOTP")
	fmt.Printf("  Secret:           %s\n", key.Secret())
	fmt.Printf("  Provisioning URL: %s\n", key.URL())
	fmt.Println()
	fmt.Println("  export ADMIN_TOTP_SECRET=" + key.Secret())

	if *password != "" {
		hash, err := handlers.HashAdminPassword(*password)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println()
		fmt.Println("  export ADMIN_PASSWORD_HASH='" + hash + "'")
	}
}
