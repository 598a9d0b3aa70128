package camera

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrUnknownCamera は指定された名前のカメラが存在しないことを表す
	ErrUnknownCamera = errors.New("unknown camera")

	// ErrDeviceUnavailable はデバイスを開けないことを表す
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Registry はカメラ名とデバイスの対応を管理し、カメラの列挙を提供する
type Registry struct {
	discovery Discovery
	static    []Description
}

// NewRegistry は新しいRegistryを作成する
// static が空の場合は discovery によるスキャン結果を公開する
func NewRegistry(discovery Discovery, static []Description) *Registry {
	return &Registry{
		discovery: discovery,
		static:    append([]Description(nil), static...),
	}
}

// AvailableCameras は利用可能なカメラの記述子一覧を返す
func (r *Registry) AvailableCameras(ctx context.Context) ([]Description, error) {
	if len(r.static) > 0 {
		result := make([]Description, len(r.static))
		copy(result, r.static)
		return result, nil
	}

	devices, err := r.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, &AccessError{Op: "カメラの列挙", Err: err}
	}

	result := make([]Description, 0, len(devices))
	for _, device := range devices {
		result = append(result, Description{
			Name:              strconv.Itoa(extractDeviceNumber(device)),
			Device:            device,
			LensFacing:        LensExternal,
			SensorOrientation: 0,
		})
	}
	return result, nil
}

// Lookup は名前からカメラの記述子を取得する
func (r *Registry) Lookup(ctx context.Context, name string) (Description, error) {
	cameras, err := r.AvailableCameras(ctx)
	if err != nil {
		return Description{}, err
	}
	for _, cam := range cameras {
		if cam.Name == name {
			return cam, nil
		}
	}
	return Description{}, &AccessError{Op: "検索", Camera: name, Err: ErrUnknownCamera}
}

// Open は名前からカメラを検索し、デバイスが利用可能であることを確認する
func (r *Registry) Open(ctx context.Context, name string) (Description, error) {
	desc, err := r.Lookup(ctx, name)
	if err != nil {
		return Description{}, err
	}
	if !r.discovery.IsDeviceAvailable(ctx, desc.Device) {
		return Description{}, &AccessError{Op: "オープン", Camera: name, Err: ErrDeviceUnavailable}
	}
	return desc, nil
}

// Modes はカメラが報告する撮影モードの一覧を返す
func (r *Registry) Modes(ctx context.Context, name string) ([]Mode, error) {
	desc, err := r.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	info, err := r.discovery.GetDeviceInfo(ctx, desc.Device)
	if err != nil {
		return nil, &AccessError{Op: "撮影モードの取得", Camera: name, Err: err}
	}
	return info.Modes, nil
}
