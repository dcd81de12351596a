package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/example/idcard-ocr/internal/extractor"
	"github.com/example/idcard-ocr/internal/imageprocessor"
	"github.com/example/idcard-ocr/internal/logging"
	"github.com/example/idcard-ocr/internal/ocr"
	"github.com/example/idcard-ocr/internal/repository"
	"github.com/example/idcard-ocr/internal/retry"
)

// ErrNotFound is returned when a scan does not exist or belongs to someone else.
var ErrNotFound = errors.New("scan not found")

// stripLanguages is used for the bottom strip, which only carries the Latin ID number.
var stripLanguages = []string{"eng"}

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	SaveScan(ctx context.Context, log *repository.ScanLog) error
	FindByScanIDAndUser(ctx context.Context, scanID, userID string) (*repository.ScanLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeScanID string) ([]*repository.ScanLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ScanResult is the outcome of one extraction call.
type ScanResult struct {
	ScanID string             `json:"scan_id"`
	Fields extractor.FieldSet `json:"data"`
}

// DuplicateReport lists earlier scans of the same image bytes.
type DuplicateReport struct {
	Scan       *repository.ScanLog
	Duplicates []*repository.ScanLog
}

type cachedScan struct {
	ScanID    string             `json:"scan_id"`
	UserID    string             `json:"user_id"`
	Fields    extractor.FieldSet `json:"data"`
	CreatedAt time.Time          `json:"created_at"`
}

// ScanUseCase orchestrates preprocessing, recognition and field extraction.
type ScanUseCase struct {
	repo         ScanRepository
	cache        ResultCache
	preprocessor imageprocessor.Preprocessor
	engine       ocr.Engine
	extractor    *extractor.Extractor
	logger       *zap.Logger
	retry        retry.Policy
	resultTTL    time.Duration
	parallelOCR  bool
	now          func() time.Time
}

// Option customises a ScanUseCase.
type Option func(*ScanUseCase)

// WithResultTTL sets how long results stay in the cache.
func WithResultTTL(ttl time.Duration) Option {
	return func(uc *ScanUseCase) { uc.resultTTL = ttl }
}

// WithSequentialOCR recognises the variants one after the other.
func WithSequentialOCR() Option {
	return func(uc *ScanUseCase) { uc.parallelOCR = false }
}

// WithRetryPolicy overrides the cache/database retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(uc *ScanUseCase) { uc.retry = p }
}

// NewScanUseCase constructs a new use case instance. repo and cache may be
// nil, in which case results are neither persisted nor cached.
func NewScanUseCase(repo ScanRepository, cache ResultCache, preprocessor imageprocessor.Preprocessor, engine ocr.Engine, ex *extractor.Extractor, logger *zap.Logger, opts ...Option) *ScanUseCase {
	uc := &ScanUseCase{
		repo:         repo,
		cache:        cache,
		preprocessor: preprocessor,
		engine:       engine,
		extractor:    ex,
		logger:       logger.Named("scan_usecase"),
		retry:        retry.DefaultPolicy(),
		resultTTL:    5 * time.Minute,
		parallelOCR:  true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ScanImage extracts the card fields from one photo. Decode and recognition
// failures abort the scan; unrecognised fields carry their sentinel. The
// preprocessed variants are removed before ScanImage returns, whatever the
// outcome.
func (uc *ScanUseCase) ScanImage(ctx context.Context, userID string, imageBytes []byte) (*ScanResult, error) {
	started := uc.now()
	scanID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.scan_image", scanID)

	img, err := imageprocessor.Decode(imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", scanID, err)
		opLogger.Warn("image decode failed", zap.Error(wrapped))
		return nil, wrapped
	}

	variants, err := uc.preprocessor.Preprocess(ctx, scanID, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.preprocess", scanID, err)
		opLogger.Error("preprocessing failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer func() {
		if err := variants.Cleanup(); err != nil {
			opLogger.Error("failed to remove preprocessed variants", zap.Error(err))
		}
	}()

	corpus, err := uc.recognizeVariants(ctx, variants)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.recognize", scanID, err)
		opLogger.Error("recognition failed", zap.Error(wrapped))
		return nil, wrapped
	}
	opLogger.Debug("ocr corpus", zap.String("corpus", corpus))

	extraction, err := uc.extractor.Extract(ctx, extractor.Input{
		Corpus: corpus,
		Strip:  &stripReader{preprocessor: uc.preprocessor, engine: uc.engine, img: img},
	})
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract_fields", scanID, err)
		opLogger.Error("field extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	result := &ScanResult{ScanID: scanID, Fields: extraction.Fields}
	elapsed := uc.now().Sub(started)
	for _, o := range extraction.Outcomes {
		opLogger.Debug("field resolved", zap.String("field", string(o.Field)), zap.String("strategy", o.Strategy))
	}
	opLogger.Info("scan completed", zap.Duration("elapsed", elapsed))

	uc.record(ctx, opLogger, userID, imageBytes, result, extraction, elapsed)
	return result, nil
}

// recognizeVariants joins the variant texts in variant order, independent of
// which recognition finishes first.
func (uc *ScanUseCase) recognizeVariants(ctx context.Context, variants *imageprocessor.VariantSet) (string, error) {
	texts := make([]string, len(variants.Variants))
	g, gctx := errgroup.WithContext(ctx)
	if !uc.parallelOCR {
		g.SetLimit(1)
	}
	for i, v := range variants.Variants {
		i, v := i, v
		g.Go(func() error {
			text, err := uc.engine.Recognize(gctx, ocr.Request{ImagePath: v.Path, PageSegMode: pageSegModeFor(v.Kind)})
			if err != nil {
				return fmt.Errorf("recognize %s variant: %w", v.Kind, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(texts, "\n"), nil
}

func pageSegModeFor(kind imageprocessor.VariantKind) ocr.PageSegMode {
	if kind == imageprocessor.VariantOtsu {
		return ocr.PSMSingleColumn
	}
	return ocr.PSMSingleBlock
}

// record persists and caches a finished scan. Failures are logged only: the
// caller already has a complete result.
func (uc *ScanUseCase) record(ctx context.Context, opLogger *zap.Logger, userID string, imageBytes []byte, result *ScanResult, extraction *extractor.Extraction, elapsed time.Duration) {
	createdAt := uc.now().UTC()

	if uc.repo != nil {
		hash := sha1.Sum(imageBytes)
		log := &repository.ScanLog{
			ScanID:           result.ScanID,
			UserID:           userID,
			FullName:         result.Fields.FullName,
			IDNumber:         result.Fields.IDNumber,
			DateOfBirth:      result.Fields.DateOfBirth,
			Address:          result.Fields.Address,
			FullNameFound:    extraction.Recognized(extractor.FieldFullName),
			IDNumberFound:    extraction.Recognized(extractor.FieldIDNumber),
			DateOfBirthFound: extraction.Recognized(extractor.FieldDateOfBirth),
			AddressFound:     extraction.Recognized(extractor.FieldAddress),
			SHA1Hash:         hex.EncodeToString(hash[:]),
			ProcessingMs:     elapsed.Milliseconds(),
			CreatedAt:        createdAt,
		}
		if err := uc.repo.SaveScan(ctx, log); err != nil {
			opLogger.Warn("failed to persist scan log", zap.Error(err))
		}
	}

	if uc.cache != nil {
		serialized, err := json.Marshal(cachedScan{
			ScanID:    result.ScanID,
			UserID:    userID,
			Fields:    result.Fields,
			CreatedAt: createdAt,
		})
		if err != nil {
			opLogger.Warn("failed to serialize scan result", zap.Error(err))
			return
		}
		if err := retry.Do(ctx, uc.retry, uc.logger, "cache.put_result", result.ScanID, func() error {
			return uc.cache.Put(ctx, result.ScanID, serialized, uc.resultTTL)
		}); err != nil {
			opLogger.Warn("failed to cache scan result", zap.Error(err))
		}
	}
}

// GetResult retrieves a cached scan result or loads it from persistence.
func (uc *ScanUseCase) GetResult(ctx context.Context, userID, scanID string) (*ScanResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", scanID)

	if uc.cache != nil {
		var payload []byte
		err := retry.Do(ctx, uc.retry, uc.logger, "cache.fetch_result", scanID, func() error {
			var err error
			payload, err = uc.cache.Fetch(ctx, scanID)
			return err
		})
		switch {
		case err == nil:
			var cached cachedScan
			if err := json.Unmarshal(payload, &cached); err != nil {
				opLogger.Warn("failed to decode cached result", zap.Error(err))
				break
			}
			if cached.UserID != userID {
				return nil, ErrNotFound
			}
			return &ScanResult{ScanID: cached.ScanID, Fields: cached.Fields}, nil
		case errors.Is(err, ErrCacheMiss):
		default:
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	log, err := uc.findScan(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		ScanID: log.ScanID,
		Fields: extractor.FieldSet{
			FullName:    log.FullName,
			IDNumber:    log.IDNumber,
			DateOfBirth: log.DateOfBirth,
			Address:     log.Address,
		},
	}, nil
}

// GetDuplicateReport finds the owner's other scans of the same image.
func (uc *ScanUseCase) GetDuplicateReport(ctx context.Context, userID, scanID string) (*DuplicateReport, error) {
	log, err := uc.findScan(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.ScanID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Scan:       log,
		Duplicates: duplicates,
	}, nil
}

func (uc *ScanUseCase) findScan(ctx context.Context, userID, scanID string) (*repository.ScanLog, error) {
	if uc.repo == nil {
		return nil, ErrNotFound
	}
	log, err := uc.repo.FindByScanIDAndUser(ctx, scanID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

// stripReader gives the extractor's positional fallback access to the source image.
type stripReader struct {
	preprocessor imageprocessor.Preprocessor
	engine       ocr.Engine
	img          image.Image
}

func (r *stripReader) ReadBottomStrip(ctx context.Context, fraction float64) (string, error) {
	data, err := r.preprocessor.BottomStrip(ctx, r.img, fraction)
	if err != nil {
		return "", fmt.Errorf("crop bottom strip: %w", err)
	}
	return r.engine.Recognize(ctx, ocr.Request{
		ImageData:   data,
		PageSegMode: ocr.PSMSingleLine,
		Languages:   stripLanguages,
	})
}
