package main

import (
	"flag"
	"log"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/joho/godotenv"
)

func main() {
	file := flag.String("file", "data/initial-users.json", "path to the seed users JSON file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	users, err := db.LoadSeedUsers(*file)
	if err != nil {
		log.Fatalf("Error loading users: %v", err)
	}

	created, err := db.SeedUsers(conn, users)
	if err != nil {
		log.Fatalf("Error seeding users: %v", err)
	}

	log.Printf("✅ Seeded %d of %d users (existing accounts left untouched)", created, len(users))
}
