package camera

import (
	"context"
	"errors"
	"fmt"
)

// ResolutionPreset は要求される画質の段階を表す
// 値の大小は画質の高低と一致する
type ResolutionPreset int

const (
	PresetLow ResolutionPreset = iota
	PresetMedium
	PresetHigh
	PresetVeryHigh
	PresetUltraHigh
	PresetMax
)

var presetNames = map[ResolutionPreset]string{
	PresetLow:       "low",
	PresetMedium:    "medium",
	PresetHigh:      "high",
	PresetVeryHigh:  "veryHigh",
	PresetUltraHigh: "ultraHigh",
	PresetMax:       "max",
}

func (p ResolutionPreset) String() string {
	if name, ok := presetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ResolutionPreset(%d)", int(p))
}

// ParsePreset は文字列からプリセットを取得する
func ParsePreset(s string) (ResolutionPreset, error) {
	for p, name := range presetNames {
		if name == s {
			return p, nil
		}
	}
	return PresetLow, fmt.Errorf("不明な解像度プリセット: %q", s)
}

// Quality はプロファイルの品質段階
type Quality int

const (
	QualityLow   Quality = iota // デバイスが報告する最小の解像度
	QualityHigh                 // デバイスが報告する最大の解像度
	QualityQVGA                 // 320x240
	Quality480P                 // 720x480
	Quality720P                 // 1280x720
	Quality1080P                // 1920x1080
	Quality2160P                // 3840x2160
)

var qualityResolutions = map[Quality]Resolution{
	QualityQVGA:  {Width: 320, Height: 240},
	Quality480P:  {Width: 720, Height: 480},
	Quality720P:  {Width: 1280, Height: 720},
	Quality1080P: {Width: 1920, Height: 1080},
	Quality2160P: {Width: 3840, Height: 2160},
}

// Profile は決定された撮影パラメータ
type Profile struct {
	Quality   Quality
	Width     int
	Height    int
	FrameRate int
}

// Size はプロファイルの解像度を返す
func (p Profile) Size() Resolution {
	return Resolution{Width: p.Width, Height: p.Height}
}

// defaultFrameRate はデバイスがフレームレートを報告しない場合に使う値
const defaultFrameRate = 30

// ErrNoProfile はデバイスが撮影モードを一つも報告しないことを表す
var ErrNoProfile = errors.New("no capture profile available for camera")

// ModeSource はカメラ名から撮影モード一覧を取得する
type ModeSource interface {
	Modes(ctx context.Context, name string) ([]Mode, error)
}

// Resolver はプリセットから最適なプロファイルを選択する
type Resolver struct {
	modes ModeSource
}

// NewResolver は新しいResolverを作成する
func NewResolver(modes ModeSource) *Resolver {
	return &Resolver{modes: modes}
}

// BestProfileForPreset はプリセットの段階から順に下位の段階へ降りていき、
// デバイスが対応する最初のプロファイルを返す
func (r *Resolver) BestProfileForPreset(ctx context.Context, cameraName string, preset ResolutionPreset) (Profile, error) {
	modes, err := r.modes.Modes(ctx, cameraName)
	if err != nil {
		return Profile{}, err
	}
	return bestProfile(buildProfiles(modes), preset, cameraName)
}

// ComputeBestPreviewSize はプレビュー用の解像度を返す
// プレビューは high を上限とする
func (r *Resolver) ComputeBestPreviewSize(ctx context.Context, cameraName string, preset ResolutionPreset) (Resolution, error) {
	if preset > PresetHigh {
		preset = PresetHigh
	}
	profile, err := r.BestProfileForPreset(ctx, cameraName, preset)
	if err != nil {
		return Resolution{}, err
	}
	return profile.Size(), nil
}

// PreviewDimensions は呼び出し元に報告するプレビューの幅と高さを返す
// 縦向きではバッファの寸法そのまま、横向きでは幅と高さを入れ替える
func PreviewDimensions(size Resolution, portrait bool) (width, height int) {
	if portrait {
		return size.Width, size.Height
	}
	return size.Height, size.Width
}

// presetFallback は各プリセットが最初に試す品質段階
var presetFallback = map[ResolutionPreset]Quality{
	PresetMax:       QualityHigh,
	PresetUltraHigh: Quality2160P,
	PresetVeryHigh:  Quality1080P,
	PresetHigh:      Quality720P,
	PresetMedium:    Quality480P,
	PresetLow:       QualityQVGA,
}

// descendingQualities は固定解像度の段階を高い順に並べたもの
var descendingQualities = []Quality{Quality2160P, Quality1080P, Quality720P, Quality480P, QualityQVGA}

// bestProfile はプロファイル表からプリセットに最適なものを選ぶ
func bestProfile(profiles map[Quality]Profile, preset ResolutionPreset, cameraName string) (Profile, error) {
	start, ok := presetFallback[preset]
	if !ok {
		return Profile{}, fmt.Errorf("不明な解像度プリセット: %d", int(preset))
	}

	if start == QualityHigh {
		if p, ok := profiles[QualityHigh]; ok {
			return p, nil
		}
		start = Quality2160P
	}

	for _, q := range descendingQualities {
		if q > start {
			continue
		}
		if p, ok := profiles[q]; ok {
			return p, nil
		}
	}

	if p, ok := profiles[QualityLow]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("カメラ %s: %w", cameraName, ErrNoProfile)
}

// buildProfiles はデバイスの撮影モードから品質段階ごとのプロファイル表を作る
func buildProfiles(modes []Mode) map[Quality]Profile {
	profiles := make(map[Quality]Profile)
	if len(modes) == 0 {
		return profiles
	}

	sorted := append([]Mode(nil), modes...)
	for i := range sorted {
		if sorted[i].FrameRate <= 0 {
			sorted[i].FrameRate = defaultFrameRate
		}
	}
	sortModes(sorted)

	largest, smallest := sorted[0], sorted[len(sorted)-1]
	profiles[QualityHigh] = Profile{Quality: QualityHigh, Width: largest.Width, Height: largest.Height, FrameRate: largest.FrameRate}
	profiles[QualityLow] = Profile{Quality: QualityLow, Width: smallest.Width, Height: smallest.Height, FrameRate: smallest.FrameRate}

	for q, res := range qualityResolutions {
		for _, m := range sorted {
			if m.Width == res.Width && m.Height == res.Height {
				profiles[q] = Profile{Quality: q, Width: m.Width, Height: m.Height, FrameRate: m.FrameRate}
				break
			}
		}
	}
	return profiles
}
