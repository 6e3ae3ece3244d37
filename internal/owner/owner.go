// Package owner はドキュメントの所有者をドキュメントサービスに問い合わせる。
package owner

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/pkg/httpclient"
)

// Resolver はドキュメントIDから所有者のユーザーIDを解決する。
type Resolver interface {
	ResolveOwner(ctx context.Context, documentID string) (string, error)
}

// HTTPResolver はドキュメントサービスのAPIで所有者を解決する。
type HTTPResolver struct {
	client *httpclient.Client
}

// NewHTTPResolver は新しいHTTPResolverを生成する。
// baseURLにはドキュメントサービスのベースURL（例: "http://documents:8081"）を指定する。
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{client: httpclient.New(baseURL)}
}

// ownerResponse はドキュメントサービスの所有者APIのレスポンス。
type ownerResponse struct {
	OwnerID string `json:"ownerId"`
}

// ResolveOwner は GET /api/v1/documents/{id}/owner を呼び出して所有者を返す。
// ドキュメントが存在しない場合は model.ErrNotFound を返す。
func (r *HTTPResolver) ResolveOwner(ctx context.Context, documentID string) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("%w: documentIdが空です", model.ErrInvalidInput)
	}

	var resp ownerResponse
	path := fmt.Sprintf("/api/v1/documents/%s/owner", url.PathEscape(documentID))
	if err := r.client.GetJSON(ctx, path, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return "", fmt.Errorf("ドキュメント %s: %w", documentID, model.ErrNotFound)
		}
		return "", fmt.Errorf("ドキュメント %s の所有者取得に失敗: %w", documentID, err)
	}
	if resp.OwnerID == "" {
		return "", fmt.Errorf("ドキュメント %s の所有者が空です", documentID)
	}
	return resp.OwnerID, nil
}

// Static は固定の対応表で所有者を解決する。テストやローカル実行で使用する。
type Static map[string]string

// ResolveOwner は対応表から所有者を返す。
func (s Static) ResolveOwner(_ context.Context, documentID string) (string, error) {
	ownerID, ok := s[documentID]
	if !ok {
		return "", fmt.Errorf("ドキュメント %s: %w", documentID, model.ErrNotFound)
	}
	return ownerID, nil
}
