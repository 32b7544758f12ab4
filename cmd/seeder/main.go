// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/unclebandit/leadreach-backend/internal/config"
	"github.com/unclebandit/leadreach-backend/internal/db"
)

var seedFiles = []string{
	"schema.sql",
	"campaigns.sql",
	"leads.sql",
}

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed files")
	schemaOnly := flag.Bool("schema-only", false, "create tables without sample data")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	dsn := cfg.DSN()
	if dsn == "" {
		log.Fatal("❌ DATABASE_URL or DB_HOST/DB_NAME must be set")
	}

	ctx := context.Background()
	if err := db.Init(ctx, dsn); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer db.Close()

	files := seedFiles
	if *schemaOnly {
		files = files[:1]
	}
	for _, name := range files {
		path := filepath.Join(*dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("❌ failed to read %s: %v", path, err)
		}
		if _, err := db.DB.ExecContext(ctx, string(content)); err != nil {
			log.Fatalf("❌ failed to execute %s: %v", path, err)
		}
		log.Printf("✅ Seeded: %s", path)
	}

	log.Println("✅ Database seeding completed successfully!")
}
