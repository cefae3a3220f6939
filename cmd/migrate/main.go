package main

import (
	"log"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Printf("Running %s migrations...", cfg.Database.Driver)
	if err := db.AutoMigrate(conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
