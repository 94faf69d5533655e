// Package testdb opens throwaway in-memory databases for repository tests.
package testdb

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"jan-server/services/research-api/internal/infrastructure/database"
)

// New returns an isolated sqlite database with the schema applied. It is closed with the test.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	db, _ := open(t)
	return db
}

// NewWithReplica is New with a read replica registered the way production registers one.
// The replica has the schema but never receives the primary's writes, so any read that
// reaches it after a write sees stale data.
func NewWithReplica(t testing.TB) *gorm.DB {
	t.Helper()
	db, _ := open(t)
	_, replicaDSN := open(t)

	if err := db.Use(dbresolver.Register(dbresolver.Config{
		Replicas: []gorm.Dialector{sqlite.Open(replicaDSN)},
	})); err != nil {
		t.Fatalf("register replica: %v", err)
	}
	return db
}

func open(t testing.TB) (*gorm.DB, string) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig(gormlogger.Silent))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db, dsn
}
