// Package camera カメラの列挙と撮影プロファイルの決定を担う
//
// # 責務
// - V4L2デバイスの検出と、カメラ名（"0", "1" ...）への対応付け
// - availableCameras で返すカメラ記述子（名前・向き・センサーの向き）の生成
// - 解像度プリセットからデバイスが対応する最適なプロファイルの選択
// - プレビューサイズの計算
//
// # 仕様
//   - プリセット: low / medium / high / veryHigh / ultraHigh / max
//   - 品質段階: QVGA(320x240) / 480P(720x480) / 720P(1280x720) / 1080P / 2160P
//     に加え、デバイスが報告する最大(High)と最小(Low)
//   - プリセットの段階から下位へ順に探し、最後に Low を使う
//   - プレビューは high を上限とする
//   - 同じデバイス報告に対しては常に同じプロファイルを返す（状態を持たない）
//   - デバイスへのアクセス失敗は AccessError を返し、errors.Is(err, ErrCameraAccess) で判定できる
//
// # 前提要件
//   - v4l-utils: カメラ名と撮影モードの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
