package streamer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"camrtmp/internal/texture"
)

// stopGracePeriod は SIGINT 後に強制終了するまでの猶予
const stopGracePeriod = 3 * time.Second

// process は起動中の ffmpeg プロセス
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// stop はプロセスを停止して終了を待つ
func (p *process) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

func (p *process) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// FFmpegFactory は FFmpegCamera を作成する
type FFmpegFactory struct {
	cfg     Config
	devices DeviceOpener
	probe   Prober
	logger  *logrus.Logger
}

// NewFFmpegFactory は新しいFFmpegFactoryを作成する
// probe が nil の場合、送出先の事前確認は行わない
func NewFFmpegFactory(cfg Config, devices DeviceOpener, probe Prober, logger *logrus.Logger) *FFmpegFactory {
	return &FFmpegFactory{cfg: cfg, devices: devices, probe: probe, logger: logger}
}

// NewCamera は新しいFFmpegCameraを作成する
func (f *FFmpegFactory) NewCamera(opts Options) (Camera, error) {
	if opts.Texture == nil {
		return nil, errors.New("テクスチャが指定されていません")
	}
	if opts.Checker == nil {
		return nil, errors.New("ConnectChecker が指定されていません")
	}
	return &FFmpegCamera{
		cfg:     f.cfg,
		devices: f.devices,
		probe:   f.probe,
		texture: opts.Texture,
		checker: opts.Checker,
		logger:  f.logger,
	}, nil
}

// FFmpegCamera は ffmpeg のサブプロセスでプレビューとRTMP送出を行う
//
// プレビュー中はMJPEGを出力するプロセスを一つ、送出中はFLVとMJPEGを
// 同時に出力するプロセスを一つ動かす。デバイスは同時に一つのプロセスしか開けない。
type FFmpegCamera struct {
	cfg     Config
	devices DeviceOpener
	probe   Prober
	texture *texture.Entry
	checker ConnectChecker
	logger  *logrus.Logger

	mu        sync.Mutex
	device    string
	preview   *process
	stream    *process
	video     *VideoParams
	audio     bool
	streaming bool
	attempt   uint64 // StartStream のたびに進む
}

// StartPreview はカメラを開いてテクスチャへのプレビューを開始する
func (c *FFmpegCamera) StartPreview(ctx context.Context, cameraName string) error {
	desc, err := c.devices.Open(ctx, cameraName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.preview != nil || c.stream != nil {
		return nil // 既に開始済み
	}
	c.device = desc.Device
	return c.startPreviewLocked()
}

// startPreviewLocked はプレビュープロセスを起動する（ロック済み前提）
func (c *FFmpegCamera) startPreviewLocked() error {
	width, height := c.texture.DefaultBufferSize()
	fps := 0
	if c.video != nil {
		fps = c.video.FPS
	}
	device := c.device

	p, err := c.spawn(previewArgs(c.cfg, device, width, height, fps), nil, func(p *process, err error) {
		c.mu.Lock()
		current := c.preview == p
		if current {
			c.preview = nil
		}
		c.mu.Unlock()
		if current && !p.wasStopped() {
			c.logger.WithError(err).WithField("device", device).Warn("プレビュープロセスが終了しました")
			c.checker.OnCameraError(previewExitDescription(device, err))
		}
	})
	if err != nil {
		return err
	}
	c.preview = p
	return nil
}

// previewExitDescription はプレビュー終了時にクライアントへ送る説明文を作る
func previewExitDescription(device string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s のプレビューが終了しました", device)
	}
	return fmt.Sprintf("%s のプレビューが終了しました: %v", device, err)
}

// StopPreview はプレビューを停止する
func (c *FFmpegCamera) StopPreview() {
	c.mu.Lock()
	p := c.preview
	c.preview = nil
	c.mu.Unlock()

	if p != nil {
		p.stop()
	}
}

// PrepareAudio は音声入力が設定されていれば音声エンコードを有効にする
func (c *FFmpegCamera) PrepareAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.AudioInput == "" {
		return false
	}
	c.audio = true
	return true
}

// PrepareVideo は映像エンコーダの設定を検証して保持する
func (c *FFmpegCamera) PrepareVideo(width, height, fps, bitrate, rotation int) bool {
	params := VideoParams{Width: width, Height: height, FPS: fps, Bitrate: bitrate, Rotation: rotation}
	if err := params.Validate(); err != nil {
		c.logger.WithError(err).Warn("映像エンコーダの準備に失敗しました")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.video = &params
	return true
}

// StartStream は送出先を確認したうえで送出プロセスを起動する
func (c *FFmpegCamera) StartStream(url string) {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return
	}
	if c.video == nil || c.device == "" {
		c.mu.Unlock()
		c.checker.OnConnectionFailed("エンコーダが準備されていません")
		return
	}
	c.streaming = true
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	go c.connect(attempt, url)
}

// connect は送出先の確認と送出プロセスの起動を行う
func (c *FFmpegCamera) connect(attempt uint64, url string) {
	ep, err := ParseEndpoint(url)
	if err == nil && c.probe != nil && c.cfg.CheckEndpoint && ep.Scheme == "rtmp" {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err = c.probe.Probe(ctx, url)
		cancel()
	}
	if err != nil {
		if !c.abandon(attempt) {
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			c.checker.OnAuthError()
			return
		}
		c.checker.OnConnectionFailed(err.Error())
		return
	}

	c.mu.Lock()
	if c.attempt != attempt || !c.streaming {
		c.mu.Unlock()
		return
	}

	// デバイスを送出プロセスへ引き継ぐ
	if c.preview != nil {
		p := c.preview
		c.preview = nil
		p.stop()
	}

	args := streamArgs(c.cfg, c.device, *c.video, c.audio, url)
	p, err := c.spawn(args, c.onProgress, c.onStreamExit)
	if err != nil {
		c.streaming = false
		if perr := c.startPreviewLocked(); perr != nil {
			c.logger.WithError(perr).Warn("プレビューの再開に失敗しました")
		}
		c.mu.Unlock()
		c.checker.OnConnectionFailed(err.Error())
		return
	}
	c.stream = p
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"addr": ep.Addr,
		"app":  ep.App,
	}).Info("RTMP送出を開始しました")
	if ep.HasCredentials {
		c.checker.OnAuthSuccess()
	}
	c.checker.OnConnectionSuccess()
}

// abandon は送出の試行を取り消す。試行がまだ有効だった場合に true を返す
func (c *FFmpegCamera) abandon(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != attempt || !c.streaming {
		return false
	}
	c.streaming = false
	return true
}

// onProgress は送出プロセスの進捗行からビットレートを通知する
func (c *FFmpegCamera) onProgress(line string) {
	if bitrate, ok := parseBitrate(line); ok {
		c.checker.OnNewBitrate(bitrate)
		return
	}
	c.logger.Debug(line)
}

// onStreamExit は送出プロセスの終了を処理する
// StopStream 以外で終了した場合は切断として通知し、プレビューを再開する
func (c *FFmpegCamera) onStreamExit(p *process, err error) {
	c.mu.Lock()
	if c.stream != p || p.wasStopped() {
		c.mu.Unlock()
		return
	}
	c.stream = nil
	c.streaming = false
	if perr := c.startPreviewLocked(); perr != nil {
		c.logger.WithError(perr).Warn("プレビューの再開に失敗しました")
	}
	c.mu.Unlock()

	c.logger.WithError(err).Warn("RTMP送出プロセスが終了しました")
	c.checker.OnDisconnect()
}

// StopStream は送出を停止し、プレビューへ戻る
func (c *FFmpegCamera) StopStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streaming = false
	c.attempt++
	if c.stream == nil {
		return
	}

	p := c.stream
	c.stream = nil
	p.stop()

	if err := c.startPreviewLocked(); err != nil {
		c.logger.WithError(err).Warn("プレビューの再開に失敗しました")
	}
}

// IsStreaming は送出中かどうかを返す
func (c *FFmpegCamera) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// IsOnPreview はプレビュー中かどうかを返す
func (c *FFmpegCamera) IsOnPreview() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview != nil || c.stream != nil
}

// spawn は ffmpeg を起動し、標準出力のJPEGフレームをテクスチャへ書き込む
// onExit はプロセスの終了後に一度だけ呼ばれる
func (c *FFmpegCamera) spawn(args []string, onLine func(string), onExit func(*process, error)) (*process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, args...)
	// FLVの終端を書けるよう、まず SIGINT で止める
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGracePeriod
	device := c.device

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderrパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	p := &process{cmd: cmd, cancel: cancel, done: make(chan struct{})}

	// stderrを別goroutineで読み取り
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		readProgress(stderr, func(line string) {
			if onLine != nil {
				onLine(line)
				return
			}
			c.logger.WithField("device", device).Debug(line)
		})
	}()

	// JPEGフレームを読み取り
	go func() {
		readErr := readJPEGFrames(stdout, c.texture.Publish)
		<-stderrDone
		waitErr := cmd.Wait()
		cancel()
		close(p.done)

		if waitErr == nil {
			waitErr = readErr
		}
		if onExit != nil {
			onExit(p, waitErr)
		}
	}()

	return p, nil
}
