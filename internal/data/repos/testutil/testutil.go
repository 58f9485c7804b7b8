// Package testutil opens a throwaway Postgres connection for repository
// tests. Tests skip when TEST_POSTGRES_DSN is unset, so the default `go
// test` run needs no database.
package testutil

import (
	"fmt"
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nexevent/participation-backend/internal/domain"
)

var tables = []any{
	&domain.User{},
	&domain.PendingUser{},
	&domain.Admin{},
	&domain.Quiz{},
	&domain.Task{},
	&domain.Form{},
	&domain.Submission{},
	&domain.QuizSubmission{},
	&domain.FormSubmission{},
}

// OpenDB connects to TEST_POSTGRES_DSN, migrates the schema, and truncates
// every table so each test starts clean.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		t.Fatalf("uuid-ossp extension: %v", err)
	}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range tables {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(table); err != nil {
			t.Fatalf("parse model: %v", err)
		}
		if err := db.Exec(fmt.Sprintf(`TRUNCATE TABLE %q CASCADE`, stmt.Schema.Table)).Error; err != nil {
			t.Fatalf("truncate %s: %v", stmt.Schema.Table, err)
		}
	}
	return db
}
