package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idcard-ocr/internal/retry"
)

// ScanLog represents a persisted card scan.
type ScanLog struct {
	ID               uint      `gorm:"primaryKey"`
	ScanID           string    `gorm:"column:scan_id;uniqueIndex;size:64"`
	UserID           string    `gorm:"column:user_id;index;size:64"`
	FullName         string    `gorm:"column:full_name;type:text"`
	IDNumber         string    `gorm:"column:id_number;type:text"`
	DateOfBirth      string    `gorm:"column:date_of_birth;type:text"`
	Address          string    `gorm:"column:address;type:text"`
	FullNameFound    bool      `gorm:"column:full_name_found"`
	IDNumberFound    bool      `gorm:"column:id_number_found"`
	DateOfBirthFound bool      `gorm:"column:date_of_birth_found"`
	AddressFound     bool      `gorm:"column:address_found"`
	SHA1Hash         string    `gorm:"column:sha1_hash;index;size:40"`
	ProcessingMs     int64     `gorm:"column:processing_ms"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ScanLog) TableName() string {
	return "scan_logs"
}

// MetricsAggregation holds raw counters over all persisted scans.
type MetricsAggregation struct {
	TotalCount          int64
	FullNameCount       int64
	IDNumberCount       int64
	DateOfBirthCount    int64
	AddressCount        int64
	AverageProcessingMs float64
}

// ScanRepository provides persistence APIs for scan logs.
type ScanRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	policy := retry.DefaultPolicy()
	return &ScanRepository{
		db:             db,
		logger:         logger.Named("scan_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ScanLog{})
	})
}

// SaveScan persists a scan log entry.
func (r *ScanRepository) SaveScan(ctx context.Context, log *ScanLog) error {
	return r.executeWithRetry(ctx, "repository.save_scan", log.ScanID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByScanIDAndUser retrieves a scan log matching the scan and owner.
// A missing row surfaces as gorm.ErrRecordNotFound inside the returned error.
func (r *ScanRepository) FindByScanIDAndUser(ctx context.Context, scanID, userID string) (*ScanLog, error) {
	var log ScanLog
	err := r.executeWithRetry(ctx, "repository.find_scan", scanID, func() error {
		return r.db.WithContext(ctx).First(&log, "scan_id = ? AND user_id = ?", scanID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the owner's other scans of byte-identical images, newest first.
func (r *ScanRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeScanID string) ([]*ScanLog, error) {
	var logs []*ScanLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeScanID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND scan_id <> ?", userID, hash, excludeScanID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics counts scans and how often each field was recognised.
func (r *ScanRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ScanLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN full_name_found THEN 1 ELSE 0 END), 0) AS full_name_count, " +
				"COALESCE(SUM(CASE WHEN id_number_found THEN 1 ELSE 0 END), 0) AS id_number_count, " +
				"COALESCE(SUM(CASE WHEN date_of_birth_found THEN 1 ELSE 0 END), 0) AS date_of_birth_count, " +
				"COALESCE(SUM(CASE WHEN address_found THEN 1 ELSE 0 END), 0) AS address_count, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_ms",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *ScanRepository) executeWithRetry(ctx context.Context, operation, scanID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, policy, r.logger, operation, scanID, fn)
}
