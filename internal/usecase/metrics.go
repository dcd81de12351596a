package usecase

import "context"

// MetricsSummary represents aggregated recognition insights.
type MetricsSummary struct {
	TotalScans                 int64              `json:"total_scans"`
	RecognitionRates           map[string]float64 `json:"recognition_rates"`
	AverageProcessingLatencyMs float64            `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates per-field recognition rates from persisted scans.
func (uc *ScanUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return &MetricsSummary{RecognitionRates: map[string]float64{}}, nil
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScans:                 aggregation.TotalCount,
		RecognitionRates:           make(map[string]float64, 4),
		AverageProcessingLatencyMs: aggregation.AverageProcessingMs,
	}

	counts := map[string]int64{
		"full_name":     aggregation.FullNameCount,
		"id_number":     aggregation.IDNumberCount,
		"date_of_birth": aggregation.DateOfBirthCount,
		"address":       aggregation.AddressCount,
	}
	for field, count := range counts {
		if aggregation.TotalCount > 0 {
			summary.RecognitionRates[field] = float64(count) / float64(aggregation.TotalCount)
		} else {
			summary.RecognitionRates[field] = 0
		}
	}

	return summary, nil
}
