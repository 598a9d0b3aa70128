package camera

import (
	"context"
	"errors"
	"fmt"
)

// LensFacing はカメラの向きを表す
type LensFacing string

const (
	LensFront    LensFacing = "front"    // 前面カメラ
	LensBack     LensFacing = "back"     // 背面カメラ
	LensExternal LensFacing = "external" // 外付けカメラ（USBなど）
)

// Description は availableCameras で返すカメラの記述子
type Description struct {
	Name              string     // カメラ名（initialize の cameraName に対応）
	Device            string     // デバイスパス（例: /dev/video0）
	LensFacing        LensFacing // カメラの向き
	SensorOrientation int        // センサーの向き（度）
}

// Map はチャンネルの戻り値として使うフラットなマップに変換する
func (d Description) Map() map[string]any {
	return map[string]any{
		"name":              d.Name,
		"lensFacing":        string(d.LensFacing),
		"sensorOrientation": d.SensorOrientation,
	}
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Modes   []Mode   // サポートされる解像度とフレームレートの組
	Formats []string // サポートされるフォーマット
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int // 幅
	Height int // 高さ
}

// Area は画素数を返す
func (r Resolution) Area() int {
	return r.Width * r.Height
}

// Mode はデバイスが報告する撮影モード
type Mode struct {
	Width     int
	Height    int
	FrameRate int
}

// ErrCameraAccess はカメラの列挙やデバイスへのアクセスに失敗したことを表す
var ErrCameraAccess = errors.New("camera access error")

// AccessError はカメラアクセスの失敗を表すエラー
// errors.Is(err, ErrCameraAccess) で判定できる
type AccessError struct {
	Op     string // 失敗した操作
	Camera string // 対象のカメラ名またはデバイス
	Err    error
}

func (e *AccessError) Error() string {
	if e.Camera == "" {
		return fmt.Sprintf("%s に失敗: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("カメラ %s の%sに失敗: %v", e.Camera, e.Op, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Is は ErrCameraAccess との比較を可能にする
func (e *AccessError) Is(target error) bool {
	return target == ErrCameraAccess
}
