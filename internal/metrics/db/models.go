package db

import "time"

// DocumentMetric はdocument_metricsテーブルの1行。
type DocumentMetric struct {
	DocumentID       string    `db:"document_id"`
	CoveragePercent  float64   `db:"coverage_percent"`
	ConsistencyScore float64   `db:"consistency_score"`
	TotalChecks      int64     `db:"total_checks"`
	PassingChecks    int64     `db:"passing_checks"`
	LastUpdated      time.Time `db:"last_updated"`
}
