package db

import (
	"context"
	"database/sql"
	"time"
)

// upsertMetrics はカウンタの加算と比率の再計算を1文で行う。
// SET句の右辺は更新前の行を参照するため、同じドキュメントへの並行更新でも加算が失われない。
const upsertMetrics = `
INSERT INTO document_metrics (document_id, coverage_percent, consistency_score, total_checks, passing_checks, last_updated)
VALUES (?, COALESCE(?, 0), ?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
	total_checks = document_metrics.total_checks + excluded.total_checks,
	passing_checks = document_metrics.passing_checks + excluded.passing_checks,
	consistency_score = CASE
		WHEN document_metrics.total_checks + excluded.total_checks = 0 THEN 0
		ELSE CAST(document_metrics.passing_checks + excluded.passing_checks AS REAL)
			/ (document_metrics.total_checks + excluded.total_checks)
	END,
	coverage_percent = COALESCE(?, document_metrics.coverage_percent),
	last_updated = excluded.last_updated
RETURNING document_id, coverage_percent, consistency_score, total_checks, passing_checks`

// UpsertMetricsParams はUpsertMetricsの引数。
type UpsertMetricsParams struct {
	DocumentID string
	// CoveragePercent はValidのときだけカバレッジを上書きする。
	CoveragePercent sql.NullFloat64
	// Checks と Passing は今回加算するチェック数と合格数。
	Checks      int64
	Passing     int64
	LastUpdated time.Time
}

// UpsertMetrics はドキュメントのメトリクスを作成または加算更新し、更新後の行を返す。
func (q *Queries) UpsertMetrics(ctx context.Context, arg UpsertMetricsParams) (DocumentMetric, error) {
	var initialScore float64
	if arg.Checks > 0 {
		initialScore = float64(arg.Passing) / float64(arg.Checks)
	}

	var m DocumentMetric
	err := q.db.GetContext(ctx, &m, upsertMetrics,
		arg.DocumentID,
		arg.CoveragePercent,
		initialScore,
		arg.Checks,
		arg.Passing,
		arg.LastUpdated,
		arg.CoveragePercent,
	)
	if err != nil {
		return DocumentMetric{}, err
	}
	// last_updatedは常に今回の値で上書きされる
	m.LastUpdated = arg.LastUpdated
	return m, nil
}

const getMetrics = `
SELECT document_id, coverage_percent, consistency_score, total_checks, passing_checks, last_updated
FROM document_metrics
WHERE document_id = ?`

// GetMetrics はドキュメントのメトリクスを取得する。存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetMetrics(ctx context.Context, documentID string) (DocumentMetric, error) {
	var m DocumentMetric
	err := q.db.GetContext(ctx, &m, getMetrics, documentID)
	return m, err
}

const deleteMetrics = `
DELETE FROM document_metrics WHERE document_id = ?`

// DeleteMetrics はドキュメントのメトリクスを削除し、削除件数を返す。
func (q *Queries) DeleteMetrics(ctx context.Context, documentID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteMetrics, documentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
