// Package realtime はWebSocket接続をユーザーIDごとに管理し、通知をライブ配信する。
//
// 接続は /ws/{userId} で受け付ける。接続直後にそのユーザーの未読通知を新しい順に再送し、
// 再送が終わるまでに作成された通知は再送の後に届ける。切断中に作成された通知は
// 未読のまま保存されているため、次回接続時の再送で少なくとも1回は届く。
package realtime
