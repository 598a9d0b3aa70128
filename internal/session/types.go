package session

import (
	"errors"

	"camrtmp/internal/camera"
	"camrtmp/internal/events"
	"camrtmp/internal/streamer"
	"camrtmp/internal/texture"
)

// 呼び出し元に返すエラーコード
const (
	CodeCameraAccess        = "CameraAccess"
	CodePrepareEncodeFailed = "PrepareEncodeFailed"
)

// MsgDisposedDuringInit は初期化の完了前に破棄または再初期化されたときのメッセージ
const MsgDisposedDuringInit = "camera disposed during initialization"

// MsgManagerClosed はサーバー停止後に initialize が呼ばれたときのメッセージ
const MsgManagerClosed = "camera manager closed"

var (
	// ErrNoSession はセッションが必要な操作をセッション無しで呼んだことを表す
	ErrNoSession = errors.New("no active camera session")

	// ErrPrepareEncodeFailed はエンコーダの準備に失敗したことを表す
	ErrPrepareEncodeFailed = errors.New("prepare encode failed")
)

// プレビューの向き。縦向きで固定し、90度回転して表示する
const (
	portrait           = true
	previewOrientation = 90
)

// State はセッションのライフサイクル状態
type State int

const (
	StateIdle         State = iota // セッション無し
	StateInitializing              // パーミッション待ち
	StateActive                    // プレビュー中
	StateStreaming                 // RTMP送出中
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateInitializing: "initializing",
	StateActive:       "active",
	StateStreaming:    "streaming",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText は状態名でエンコードする
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allStates はメトリクス用の状態名一覧
var allStates = []string{"idle", "initializing", "active", "streaming"}

// InitializeOptions は initialize の引数
type InitializeOptions struct {
	CameraName       string
	ResolutionPreset camera.ResolutionPreset
	StreamingPreset  camera.ResolutionPreset
	EnableAudio      bool
	EnableOpenGL     bool
}

// StreamOptions は startVideoStreaming の引数
type StreamOptions struct {
	URL      string
	Bitrate  int
	Rotation int
}

// Reply は initialize 成功時の戻り値
type Reply struct {
	TextureID           int64
	PreviewWidth        int
	PreviewHeight       int
	PreviewQuarterTurns int
}

// Map はチャンネルの戻り値として使うフラットなマップに変換する
func (r Reply) Map() map[string]any {
	return map[string]any{
		"textureId":           r.TextureID,
		"previewWidth":        r.PreviewWidth,
		"previewHeight":       r.PreviewHeight,
		"previewQuarterTurns": r.PreviewQuarterTurns,
	}
}

// Callback は initialize の結果を受け取る。いずれか一つがちょうど一度呼ばれる
type Callback interface {
	OnReady(reply Reply)
	OnError(code, message string)
	OnFatal(err error)
}

// Session は一つのカメラとRTMP送出のインスタンス
type Session struct {
	ID          string
	CameraName  string
	Texture     *texture.Entry
	Profile     camera.Profile
	PreviewSize camera.Resolution
	EnableAudio bool
	URL         string

	backend   streamer.Camera
	messenger *events.Messenger
}

// Snapshot は外部に公開するセッションの状態
type Snapshot struct {
	ID            string `json:"id"`
	State         State  `json:"state"`
	CameraName    string `json:"cameraName"`
	TextureID     int64  `json:"textureId"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FrameRate     int    `json:"frameRate"`
	PreviewWidth  int    `json:"previewWidth"`
	PreviewHeight int    `json:"previewHeight"`
	EnableAudio   bool   `json:"enableAudio"`
	URL           string `json:"url,omitempty"`
	Streaming     bool   `json:"streaming"`
}
