package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"microlend-engine/internal/services/database"
)

func main() {
	fmt.Println("=== Database Initialization Script ===")
	fmt.Println()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	// Get database URL
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("❌ DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		fmt.Printf("❌ Invalid DATABASE_URL: %v\n", err)
		os.Exit(1)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		dbName = "microlend"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// First connect to default 'postgres' database to create our database
	admin := *parsed
	admin.Path = "/postgres"
	fmt.Println("📡 Connecting to PostgreSQL server...")

	adminConn, err := pgx.Connect(ctx, admin.String())
	if err != nil {
		fmt.Printf("❌ Failed to connect to PostgreSQL: %v\n", err)
		os.Exit(1)
	}

	// Check if database exists
	var exists bool
	err = adminConn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		fmt.Printf("❌ Failed to check database existence: %v\n", err)
		adminConn.Close(ctx)
		os.Exit(1)
	}

	if !exists {
		fmt.Printf("📦 Creating '%s' database...\n", dbName)
		_, err = adminConn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize())
		if err != nil {
			fmt.Printf("❌ Failed to create database: %v\n", err)
			adminConn.Close(ctx)
			os.Exit(1)
		}
		fmt.Printf("✅ Database '%s' created!\n", dbName)
	} else {
		fmt.Printf("✅ Database '%s' already exists\n", dbName)
	}
	adminConn.Close(ctx)

	fmt.Printf("📡 Connecting to %s database...\n", dbName)
	db, err := database.NewFromURL(databaseURL)
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database successfully!")
	fmt.Println()

	// Read SQL file
	fmt.Println("📖 Reading SQL schema file...")
	sqlBytes, err := os.ReadFile("scripts/init_database.sql")
	if err != nil {
		fmt.Printf("❌ Failed to read SQL file: %v\n", err)
		os.Exit(1)
	}

	// Execute SQL in one transaction so a failing statement leaves no partial schema
	fmt.Println("🚀 Executing database schema...")
	err = db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, string(sqlBytes))
		return err
	})
	if err != nil {
		fmt.Printf("❌ Failed to execute SQL: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Database schema executed successfully!")
	fmt.Println()

	// Verify every active product decodes and validates the way the engine reads it
	fmt.Println("🔍 Verifying loan product configuration...")

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT provider_id FROM loan_products ORDER BY provider_id")
	if err != nil {
		fmt.Printf("❌ Could not list providers: %v\n", err)
		os.Exit(1)
	}
	providers, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		fmt.Printf("❌ Could not read provider ids: %v\n", err)
		os.Exit(1)
	}

	products := database.NewProductRepository(db)
	checked, broken := 0, 0 // broken counts providers
	fmt.Println("   ─────────────────────────────────────────────────────────")
	for _, providerID := range providers {
		active, err := products.GetAllActive(ctx, providerID)
		if err != nil {
			broken++
			fmt.Printf("   ❌ provider %d: %v\n", providerID, err)
			continue
		}
		for _, p := range active {
			checked++
			fmt.Printf("   %d. %s (provider %d, %d days)\n", p.ID, p.Name, p.ProviderID, p.DurationDays)
			fmt.Printf("      Service fee: %v | Daily fee: %v | Penalty tiers: %d\n",
				p.ServiceFeeEnabled, p.DailyFeeEnabled, len(p.PenaltyTiers))
		}
	}
	fmt.Println("   ─────────────────────────────────────────────────────────")

	if broken > 0 {
		fmt.Printf("⚠️  %d of %d providers have misconfigured products\n", broken, len(providers))
		os.Exit(1)
	}

	fmt.Printf("✅ %d active products verified\n", checked)
	fmt.Println()
	fmt.Println("🎉 Database initialization completed successfully!")
}
