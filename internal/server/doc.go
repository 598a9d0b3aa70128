// Package server は、コマンドチャンネルをHTTPで公開します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// プレビュー映像とカメライベントの配信を担当します。
//
// 責務:
//   - POST /api/v1/channel/:method でコマンドを受け付け、結果をHTTPステータスに対応付ける
//   - テクスチャのフレームをMJPEGで配信する
//   - カメライベントをWebSocket（gorilla/websocket）で配信する
//   - OpenAPI定義（kin-openapi）によるリクエストの検証と定義の公開
//   - ヘルスチェック、ステータス、Prometheusメトリクス
//
// 仕様:
//   - ルーティングはgin
//   - 結果の種類とステータス: 成功 200、エラー 422、未実装 501、致命的エラー 500、結果待ちの打ち切り 504
//   - グレースフルシャットダウンに対応
package server
