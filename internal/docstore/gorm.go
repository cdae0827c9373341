/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Document is one stored row.
type Document struct {
	ID        string `gorm:"type:varchar(191);primaryKey"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table so renames of the Go type do not move data.
func (Document) TableName() string { return "grooveboat_documents" }

// Gorm stores documents in a SQL database through gorm.
type Gorm struct {
	db      *gorm.DB
	backend string
	logger  zerolog.Logger
}

// NewGorm connects to the configured SQL backend and migrates the table.
func NewGorm(backend config.DocStoreBackend, dsn string, log zerolog.Logger) (*Gorm, error) {
	var dialector gorm.Dialector
	switch backend {
	case config.DocStorePostgres:
		dialector = postgres.Open(dsn)
	case config.DocStoreMySQL:
		dialector = mysql.Open(dsn)
	case config.DocStoreSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown sql docstore backend: %s", backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s docstore: %w", backend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if backend == config.DocStoreSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Document{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate docstore: %w", err)
	}

	log.Debug().Str("backend", string(backend)).Msg("docstore ready")
	return &Gorm{
		db:      db,
		backend: string(backend),
		logger:  log.With().Str("component", "docstore").Logger(),
	}, nil
}

func (g *Gorm) Get(ctx context.Context, id string, out any) (err error) {
	started := time.Now()
	defer func() { observe(g.backend, "get", started, err) }()

	var doc Document
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", id, err)
	}
	return decode(id, doc.Body, out)
}

func (g *Gorm) Put(ctx context.Context, id string, value any) (err error) {
	started := time.Now()
	defer func() { observe(g.backend, "put", started, err) }()

	body, err := encode(id, value)
	if err != nil {
		return err
	}
	doc := Document{ID: id, Body: body, UpdatedAt: time.Now().UTC()}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	return nil
}

func (g *Gorm) Remove(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { observe(g.backend, "remove", started, err) }()

	if err := g.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Close releases database resources.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
