// Package channel は名前付きコマンドを受け取り、セッションとカメラの操作へ振り分ける
//
// 各コマンドの結果は Result へちょうど一度だけ返される。想定外の失敗は
// Handle の戻り値のエラー（致命的エラー）として呼び出し元へ伝わる。
package channel

// コマンド名
const (
	MethodAvailableCameras         = "availableCameras"
	MethodInitialize               = "initialize"
	MethodStartVideoStreaming      = "startVideoStreaming"
	MethodStopRecordingOrStreaming = "stopRecordingOrStreaming"
	MethodStopStreaming            = "stopStreaming"
	MethodDispose                  = "dispose"
	MethodPrepareForVideoRecording = "prepareForVideoRecording"

	// 以下は受け付けるだけで何もしない
	MethodTakePicture                     = "takePicture"
	MethodStartVideoRecording             = "startVideoRecording"
	MethodStartVideoRecordingAndStreaming = "startVideoRecordingAndStreaming"
	MethodPauseVideoStreaming             = "pauseVideoStreaming"
	MethodResumeVideoStreaming            = "resumeVideoStreaming"
	MethodStopRecording                   = "stopRecording"
	MethodPauseVideoRecording             = "pauseVideoRecording"
	MethodResumeVideoRecording            = "resumeVideoRecording"
	MethodStartImageStream                = "startImageStream"
	MethodStopImageStream                 = "stopImageStream"
	MethodGetStreamStatistics             = "getStreamStatistics"
)

// stubMethods は何もせずに成功を返すコマンド
var stubMethods = map[string]bool{
	MethodTakePicture:                     true,
	MethodStartVideoRecording:             true,
	MethodStartVideoRecordingAndStreaming: true,
	MethodPauseVideoStreaming:             true,
	MethodResumeVideoStreaming:            true,
	MethodStopRecording:                   true,
	MethodPauseVideoRecording:             true,
	MethodResumeVideoRecording:            true,
	MethodStartImageStream:                true,
	MethodStopImageStream:                 true,
	MethodGetStreamStatistics:             true,
}

// IsStub はスタブとして扱うコマンドかどうかを返す
func IsStub(method string) bool {
	return stubMethods[method]
}

// MethodCall は一つのコマンド呼び出し
type MethodCall struct {
	Method    string
	Arguments map[string]any
}
