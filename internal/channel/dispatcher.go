package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"camrtmp/internal/camera"
	"camrtmp/internal/metrics"
	"camrtmp/internal/session"
)

// CameraLister はカメラの列挙を提供する
type CameraLister interface {
	AvailableCameras(ctx context.Context) ([]camera.Description, error)
}

// Lifecycle はセッションの操作を提供する
type Lifecycle interface {
	Initialize(ctx context.Context, opts session.InitializeOptions, cb session.Callback)
	StartStreaming(opts session.StreamOptions) error
	StopStreaming()
	Dispose()
}

// Dispatcher はコマンドを名前で振り分ける
// Handle の呼び出しは直列化される
type Dispatcher struct {
	mu        sync.Mutex
	cameras   CameraLister
	lifecycle Lifecycle
	validate  *validator.Validate
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewDispatcher は新しいDispatcherを作成する
func NewDispatcher(cameras CameraLister, lifecycle Lifecycle, m *metrics.Metrics, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		cameras:   cameras,
		lifecycle: lifecycle,
		validate:  newValidator(),
		metrics:   m,
		logger:    logger,
	}
}

// Handle はコマンドを実行し、結果を result へ返す
// 戻り値のエラーは致命的エラーであり、その場合 result は呼ばれない
func (d *Dispatcher) Handle(ctx context.Context, call MethodCall, result Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	log := d.logger.WithField("method", call.Method)
	log.Debug("コマンドを受信しました")

	wrapped := &instrumented{Result: result, method: call.Method, start: start, metrics: d.metrics}
	if err := d.dispatch(ctx, call, wrapped); err != nil {
		wrapped.observe(KindFatal)
		log.WithError(err).Error("コマンドの実行に失敗しました")
		return err
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, call MethodCall, result Result) error {
	switch call.Method {
	case MethodAvailableCameras:
		return d.availableCameras(ctx, result)
	case MethodInitialize:
		return d.initialize(ctx, call, result)
	case MethodStartVideoStreaming:
		return d.startVideoStreaming(call, result)
	case MethodStopRecordingOrStreaming, MethodStopStreaming:
		d.lifecycle.StopStreaming()
		result.Success(nil)
		return nil
	case MethodDispose:
		d.lifecycle.Dispose()
		result.Success(nil)
		return nil
	case MethodPrepareForVideoRecording:
		result.Success(nil)
		return nil
	}

	if IsStub(call.Method) {
		d.logger.WithField("method", call.Method).Warn("未実装のコマンドです。何もせずに成功を返します")
		result.Success(nil)
		return nil
	}
	result.NotImplemented()
	return nil
}

func (d *Dispatcher) availableCameras(ctx context.Context, result Result) error {
	cameras, err := d.cameras.AvailableCameras(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrCameraAccess) {
			result.Error(session.CodeCameraAccess, err.Error(), nil)
			return nil
		}
		return fmt.Errorf("カメラの列挙に失敗: %w", err)
	}

	list := make([]map[string]any, 0, len(cameras))
	for _, cam := range cameras {
		list = append(list, cam.Map())
	}
	result.Success(list)
	return nil
}

func (d *Dispatcher) initialize(ctx context.Context, call MethodCall, result Result) error {
	var args initializeArgs
	if err := decodeArgs(d.validate, call, &args); err != nil {
		return err
	}

	streaming, err := camera.ParsePreset(args.StreamingPreset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	resolution := streaming
	if args.ResolutionPreset != "" {
		if resolution, err = camera.ParsePreset(args.ResolutionPreset); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}

	d.lifecycle.Initialize(ctx, session.InitializeOptions{
		CameraName:       args.CameraName,
		ResolutionPreset: resolution,
		StreamingPreset:  streaming,
		EnableAudio:      *args.EnableAudio,
		EnableOpenGL:     args.EnableAndroidOpenGL,
	}, resultCallback{result: result})
	return nil
}

func (d *Dispatcher) startVideoStreaming(call MethodCall, result Result) error {
	var args startStreamingArgs
	if err := decodeArgs(d.validate, call, &args); err != nil {
		return err
	}

	err := d.lifecycle.StartStreaming(session.StreamOptions{
		URL:      args.URL,
		Bitrate:  *args.Bitrate,
		Rotation: args.rotation(),
	})
	switch {
	case err == nil:
		result.Success(nil)
		return nil
	case errors.Is(err, session.ErrPrepareEncodeFailed):
		result.Error(session.CodePrepareEncodeFailed, "", nil)
		return nil
	default:
		return fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}
}

// resultCallback は初期化の結果を Result へ変換する
type resultCallback struct {
	result Result
}

func (c resultCallback) OnReady(reply session.Reply) {
	c.result.Success(reply.Map())
}

func (c resultCallback) OnError(code, message string) {
	c.result.Error(code, message, nil)
}

func (c resultCallback) OnFatal(err error) {
	c.result.Fatal(err)
}
