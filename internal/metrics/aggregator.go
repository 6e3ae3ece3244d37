// Package metrics はドキュメントごとの整合性スコアとカバレッジを逐次集計する。
//
// 整合性スコアは合格数と総チェック数の2つのカウンタから毎回算出するため、
// 履歴を再走査せずに常に累積合格率と一致する。
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	metricsdb "github.com/nao1215/docnotify/internal/metrics/db"
	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/pkg/event"
)

// Store はメトリクスの永続化を担うストレージ。metricsdb.Queries が実装する。
// UpsertMetrics は同じドキュメントへの並行呼び出しに対してアトミックでなければならない。
type Store interface {
	UpsertMetrics(ctx context.Context, arg metricsdb.UpsertMetricsParams) (metricsdb.DocumentMetric, error)
	GetMetrics(ctx context.Context, documentID string) (metricsdb.DocumentMetric, error)
	DeleteMetrics(ctx context.Context, documentID string) (int64, error)
}

// Aggregator はCONSISTENCY_RESULTイベントと明示的な更新をメトリクスに畳み込む。
type Aggregator struct {
	store  Store
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewAggregator は新しいAggregatorを生成する。
func NewAggregator(store Store, logger logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.WithField("component", "metrics"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Attach はイベントバスにCONSISTENCY_RESULTのハンドラを登録する。
func (a *Aggregator) Attach(bus *event.Bus) {
	event.On(bus, func(ctx context.Context, e event.ConsistencyResult) error {
		_, err := a.RecordCheck(ctx, e.DocumentID, e.IsConsistent)
		return err
	})
}

// RecordCheck は整合性チェック1件の結果を加算する。
func (a *Aggregator) RecordCheck(ctx context.Context, documentID string, isConsistent bool) (model.MetricsRecord, error) {
	return a.UpdateMetrics(ctx, documentID, model.MetricsUpdate{IsConsistent: &isConsistent})
}

// UpdateMetrics はカバレッジの上書きとチェック結果の加算を1回のアップサートで行う。
// どちらも指定されていない場合は、レコードが存在しなければ0で作成し、最終更新日時だけを進める。
func (a *Aggregator) UpdateMetrics(ctx context.Context, documentID string, update model.MetricsUpdate) (model.MetricsRecord, error) {
	if documentID == "" {
		return model.MetricsRecord{}, errors.Join(model.ErrInvalidInput, errors.New("documentIdは必須です"))
	}
	if err := update.Validate(); err != nil {
		return model.MetricsRecord{}, err
	}

	arg := metricsdb.UpsertMetricsParams{
		DocumentID:  documentID,
		LastUpdated: a.now(),
	}
	if update.CoveragePercent != nil {
		arg.CoveragePercent = sql.NullFloat64{Float64: *update.CoveragePercent, Valid: true}
	}
	if update.IsConsistent != nil {
		arg.Checks = 1
		if *update.IsConsistent {
			arg.Passing = 1
		}
	}

	row, err := a.store.UpsertMetrics(ctx, arg)
	if err != nil {
		return model.MetricsRecord{}, fmt.Errorf("ドキュメント %s のメトリクス更新に失敗: %w", documentID, err)
	}

	record := toRecord(row)
	a.logger.WithFields(logrus.Fields{
		"document_id":       documentID,
		"total_checks":      record.TotalChecks,
		"passing_checks":    record.PassingChecks,
		"consistency_score": record.ConsistencyScore,
	}).Debug("メトリクスを更新しました")
	return record, nil
}

// GetMetrics はドキュメントのメトリクスを返す。存在しない場合は model.ErrNotFound を返す。
func (a *Aggregator) GetMetrics(ctx context.Context, documentID string) (model.MetricsRecord, error) {
	row, err := a.store.GetMetrics(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MetricsRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.MetricsRecord{}, fmt.Errorf("ドキュメント %s のメトリクス取得に失敗: %w", documentID, err)
	}
	return toRecord(row), nil
}

// ResetMetrics はドキュメントのメトリクスを削除する。
// カウンタを0に戻す唯一の手段で、次のイベントで新しいレコードが作られる。
// レコードが存在しなくても成功する。
func (a *Aggregator) ResetMetrics(ctx context.Context, documentID string) error {
	deleted, err := a.store.DeleteMetrics(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ドキュメント %s のメトリクス削除に失敗: %w", documentID, err)
	}
	a.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"deleted":     deleted,
	}).Info("メトリクスをリセットしました")
	return nil
}

func toRecord(row metricsdb.DocumentMetric) model.MetricsRecord {
	return model.MetricsRecord{
		DocumentID:       row.DocumentID,
		CoveragePercent:  row.CoveragePercent,
		ConsistencyScore: row.ConsistencyScore,
		TotalChecks:      row.TotalChecks,
		PassingChecks:    row.PassingChecks,
		LastUpdated:      row.LastUpdated.UTC(),
	}
}
