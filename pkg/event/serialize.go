package event

import (
	"encoding/json"
	"fmt"
)

// Decode はイベント名とJSONペイロードから型付きのイベントを復元する。
// 未知のフィールドは無視し、未知のイベント名はエラーにする。
func Decode(name string, payload json.RawMessage) (Event, error) {
	switch Type(name) {
	case TypeDocUpdated:
		return decodeAs[DocUpdated](payload)
	case TypeConsistencyResult:
		return decodeAs[ConsistencyResult](payload)
	default:
		return nil, fmt.Errorf("%w: 未知のイベント名 %q", ErrInvalidEvent, name)
	}
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	data, err := DecodeData[T](payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeData はJSONペイロードを指定された型のイベントにデシリアライズする。
func DecodeData[T Event](payload json.RawMessage) (T, error) {
	var data T
	if len(payload) == 0 {
		return data, fmt.Errorf("%w: ペイロードが空です", ErrInvalidEvent)
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return data, fmt.Errorf("%w: イベントデータのデシリアライズに失敗: %v", ErrInvalidEvent, err)
	}
	return data, nil
}
