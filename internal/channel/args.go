package channel

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"camrtmp/internal/camera"
)

// ErrInvalidArguments はコマンドの引数が不正であることを表す
var ErrInvalidArguments = errors.New("invalid arguments")

// defaultRotation は rotation が省略された場合の回転角
const defaultRotation = 90

// initializeArgs は initialize の引数
type initializeArgs struct {
	CameraName          string `mapstructure:"cameraName" validate:"required"`
	ResolutionPreset    string `mapstructure:"resolutionPreset" validate:"omitempty,preset"`
	StreamingPreset     string `mapstructure:"streamingPreset" validate:"required,preset"`
	EnableAudio         *bool  `mapstructure:"enableAudio" validate:"required"`
	EnableAndroidOpenGL bool   `mapstructure:"enableAndroidOpenGL"`
}

// startStreamingArgs は startVideoStreaming の引数
type startStreamingArgs struct {
	URL      string `mapstructure:"url" validate:"required,url"`
	Bitrate  *int   `mapstructure:"bitrate" validate:"required,gt=0"`
	Rotation *int   `mapstructure:"rotation" validate:"omitempty,oneof=0 90 180 270"`
}

// rotation は省略時の既定値を補った回転角を返す
func (a startStreamingArgs) rotation() int {
	if a.Rotation == nil {
		return defaultRotation
	}
	return *a.Rotation
}

// newValidator はコマンド引数用のバリデーターを作成する
func newValidator() *validator.Validate {
	v := validator.New()
	// エラーメッセージ用にキー名を使う
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("mapstructure")
	})
	_ = v.RegisterValidation("preset", func(fl validator.FieldLevel) bool {
		_, err := camera.ParsePreset(fl.Field().String())
		return err == nil
	})
	return v
}

// rejectFractionalInts は整数のフィールドへ小数部を持つ浮動小数点数が渡されたときにエラーを返す
// mapstructure は既定で小数部を切り捨てるため
func rejectFractionalInts(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}

	var f float64
	switch v := data.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return data, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("整数ではない値です: %v", data)
	}
	return data, nil
}

// decodeArgs は引数のマップを型付きの構造体へ変換して検証する
func decodeArgs(v *validator.Validate, call MethodCall, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		TagName:    "mapstructure",
		DecodeHook: mapstructure.DecodeHookFuncType(rejectFractionalInts),
	})
	if err != nil {
		return fmt.Errorf("デコーダの作成に失敗: %w", err)
	}
	if err := dec.Decode(call.Arguments); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Method, err)
	}
	if err := v.Struct(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Method, err)
	}
	return nil
}
