package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/types"
)

// SQLConfig configures the relational store.
type SQLConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql". Empty means sqlite.
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	// AutoMigrate creates or updates the memories table on open. Disable it
	// when schema management goes through versioned migrations instead.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultSQLConfig returns an embedded sqlite setup suitable for local use.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:          "sqlite",
		DSN:             "memflow.db",
		AutoMigrate:     true,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// memoryRecord is the relational projection of types.Memory. Slice and map
// fields are stored as JSON text columns so the schema stays portable across
// sqlite, postgres, and mysql.
type memoryRecord struct {
	ID                    string    `gorm:"column:id;primaryKey;size:64"`
	ThreadID              string    `gorm:"column:thread_id;size:128;index"`
	TextContent           string    `gorm:"column:text_content;type:text"`
	Summary               string    `gorm:"column:summary;type:text"`
	Importance            float64   `gorm:"column:importance"`
	ImportanceScore       float64   `gorm:"column:importance_score"`
	AccessCount           int       `gorm:"column:access_count"`
	LastAccessedAt        time.Time `gorm:"column:last_accessed_at"`
	CreatedAt             time.Time `gorm:"column:created_at;index"`
	ArchivedAt            time.Time `gorm:"column:archived_at"`
	LifecycleStage        string    `gorm:"column:lifecycle_stage;size:32;index"`
	Embedding             string    `gorm:"column:embedding;type:text"`
	ClusterID             string    `gorm:"column:cluster_id;size:64"`
	ConsolidatedFrom      string    `gorm:"column:consolidated_from;type:text"`
	ConsolidationStrategy string    `gorm:"column:consolidation_strategy;size:32"`
	CompressionRatio      float64   `gorm:"column:compression_ratio"`
	Metadata              string    `gorm:"column:metadata;type:text"`
}

func (memoryRecord) TableName() string { return "memories" }

// SQL is a relational store backed by gorm. Candidate rows are fetched by
// thread and scored in-process.
type SQL struct {
	db       *gorm.DB
	embedder Embedder
	logger   *zap.Logger

	Now func() time.Time
}

// NewSQL opens the configured database and optionally migrates the schema.
func NewSQL(cfg SQLConfig, embedder Embedder, logger *zap.Logger) (*SQL, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSQLConfig()
	if cfg.Driver == "" {
		cfg.Driver = def.Driver
	}
	if cfg.DSN == "" {
		cfg.DSN = def.DSN
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, types.NewError(types.ErrInvalidConfig, "unsupported sql driver: "+cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "open database").WithCause(err).WithRetryable(true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "access connection pool").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&memoryRecord{}); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "migrate memories table").WithCause(err)
		}
	}

	return NewSQLFromDB(db, embedder, logger), nil
}

// NewSQLFromDB wraps an already-open gorm handle. The caller owns migration.
func NewSQLFromDB(db *gorm.DB, embedder Embedder, logger *zap.Logger) *SQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQL{
		db:       db,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "store.sql")),
		Now:      time.Now,
	}
}

// StoreMemories upserts memories by primary key.
func (s *SQL) StoreMemories(ctx context.Context, memories []types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	now := s.Now()

	records := make([]memoryRecord, 0, len(memories))
	for i := range memories {
		m := memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.LifecycleStage == "" {
			m.LifecycleStage = types.StageNew
		}
		rec, err := toRecord(&m)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "sql store failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// RetrieveRelevant returns memories ranked by relevance to the query.
func (s *SQL) RetrieveRelevant(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]types.Memory, error) {
	scored, err := s.RetrieveRelevantWithScore(ctx, query, threadID, opts)
	if err != nil {
		return nil, err
	}
	return stripScores(scored), nil
}

// RetrieveRelevantWithScore loads candidate rows and scores them in-process.
func (s *SQL) RetrieveRelevantWithScore(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]ScoredMemory, error) {
	tx := s.db.WithContext(ctx).Model(&memoryRecord{})
	if threadID != "" {
		tx = tx.Where("thread_id = ?", threadID)
	}
	var records []memoryRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "sql fetch failed").WithCause(err).WithRetryable(true)
	}

	var queryEmbedding []float32
	if s.embedder != nil && query != "" {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, falling back to lexical scoring", zap.Error(err))
		} else {
			queryEmbedding = vec
		}
	}

	scored := make([]ScoredMemory, 0, len(records))
	for i := range records {
		m, err := fromRecord(&records[i])
		if err != nil {
			s.logger.Warn("skipping undecodable memory row", zap.String("id", records[i].ID), zap.Error(err))
			continue
		}
		score := scoreAgainst(query, queryEmbedding, &m)
		if query != "" && score < opts.ScoreThreshold {
			continue
		}
		scored = append(scored, ScoredMemory{Memory: m, Score: score})
	}
	return rankScored(scored, opts.Limit), nil
}

// ClearThreadMemories deletes every row belonging to the thread.
func (s *SQL) ClearThreadMemories(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&memoryRecord{}).Error
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "sql clear failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// ListThreads returns the distinct thread IDs present in the table.
func (s *SQL) ListThreads(ctx context.Context) ([]string, error) {
	var threads []string
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).Distinct().Pluck("thread_id", &threads).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "sql list threads failed").WithCause(err).WithRetryable(true)
	}
	return threads, nil
}

// HealthStatus pings the underlying connection pool.
func (s *SQL) HealthStatus(ctx context.Context) HealthStatus {
	sqlDB, err := s.db.DB()
	if err != nil {
		return HealthStatus{Available: false, Connected: false, Error: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return HealthStatus{Available: false, Connected: false, Error: err.Error()}
	}
	return HealthStatus{Available: true, Connected: true}
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(m *types.Memory) (memoryRecord, error) {
	rec := memoryRecord{
		ID:                    m.ID,
		ThreadID:              m.ThreadID,
		TextContent:           m.TextContent,
		Summary:               m.Summary,
		Importance:            m.Importance,
		ImportanceScore:       m.ImportanceScore,
		AccessCount:           m.AccessCount,
		LastAccessedAt:        m.LastAccessedAt,
		CreatedAt:             m.CreatedAt,
		ArchivedAt:            m.ArchivedAt,
		LifecycleStage:        string(m.LifecycleStage),
		ClusterID:             m.ClusterID,
		ConsolidationStrategy: string(m.ConsolidationStrategy),
		CompressionRatio:      m.CompressionRatio,
	}
	for _, field := range []struct {
		dst   *string
		value any
		empty bool
	}{
		{&rec.Embedding, m.Embedding, len(m.Embedding) == 0},
		{&rec.ConsolidatedFrom, m.ConsolidatedFrom, len(m.ConsolidatedFrom) == 0},
		{&rec.Metadata, m.Metadata, len(m.Metadata) == 0},
	} {
		if field.empty {
			continue
		}
		raw, err := json.Marshal(field.value)
		if err != nil {
			return memoryRecord{}, types.NewError(types.ErrInternal, "encode memory column").WithCause(err)
		}
		*field.dst = string(raw)
	}
	return rec, nil
}

func fromRecord(r *memoryRecord) (types.Memory, error) {
	m := types.Memory{
		ID:                    r.ID,
		ThreadID:              r.ThreadID,
		TextContent:           r.TextContent,
		Summary:               r.Summary,
		Importance:            r.Importance,
		ImportanceScore:       r.ImportanceScore,
		AccessCount:           r.AccessCount,
		LastAccessedAt:        r.LastAccessedAt,
		CreatedAt:             r.CreatedAt,
		ArchivedAt:            r.ArchivedAt,
		LifecycleStage:        types.LifecycleStage(r.LifecycleStage),
		ClusterID:             r.ClusterID,
		ConsolidationStrategy: types.ConsolidationStrategy(r.ConsolidationStrategy),
		CompressionRatio:      r.CompressionRatio,
	}
	if r.Embedding != "" {
		if err := json.Unmarshal([]byte(r.Embedding), &m.Embedding); err != nil {
			return types.Memory{}, err
		}
	}
	if r.ConsolidatedFrom != "" {
		if err := json.Unmarshal([]byte(r.ConsolidatedFrom), &m.ConsolidatedFrom); err != nil {
			return types.Memory{}, err
		}
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &m.Metadata); err != nil {
			return types.Memory{}, err
		}
	}
	return m, nil
}
