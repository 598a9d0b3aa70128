package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Stream     StreamConfig     `yaml:"stream"`
	Permission PermissionConfig `yaml:"permission"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト

	// initialize の結果（パーミッション待ちを含む）を待つ最大時間
	ResultTimeout time.Duration `yaml:"result_timeout"`

	// チャンネルエンドポイントのレート制限
	RateLimit float64 `yaml:"rate_limit"` // 1秒あたりのリクエスト数（0で無制限）
	RateBurst int     `yaml:"rate_burst"`
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 固定で公開するカメラ（空の場合は自動検出）
	Devices []CameraDevice `yaml:"devices"`

	// 自動検出を有効にするか
	AutoDiscover bool `yaml:"auto_discover"`

	// マイク入力（ffmpeg の -f alsa に渡す名前）とパーミッション確認用のデバイスノード
	AudioInput string `yaml:"audio_input"`
	AudioNode  string `yaml:"audio_node"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	Name              string `yaml:"name"`               // カメラ名（initialize の cameraName）
	Device            string `yaml:"device"`             // デバイスパス (例: /dev/video0)
	LensFacing        string `yaml:"lens_facing"`        // front / back / external
	SensorOrientation int    `yaml:"sensor_orientation"` // センサーの向き（度）
}

// StreamConfig はエンコードとRTMP送出の設定
type StreamConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	VideoCodec     string        `yaml:"video_codec"`
	AudioCodec     string        `yaml:"audio_codec"`
	AudioBitrate   int           `yaml:"audio_bitrate"`
	EncoderPreset  string        `yaml:"encoder_preset"`
	PreviewQuality int           `yaml:"preview_quality"` // MJPEGプレビューの -q:v
	CheckEndpoint  bool          `yaml:"check_endpoint"`  // 送出前にRTMPエンドポイントへ接続確認する
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PermissionConfig はカメラ・マイクのアクセス許可の判定方法
type PermissionConfig struct {
	Mode string `yaml:"mode"` // device / grant / deny
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text / json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  0, // ストリーミング用にタイムアウト無効化
			ResultTimeout: 30 * time.Second,
			RateLimit:     20,
			RateBurst:     40,
		},
		Camera: CameraConfig{
			Devices:      []CameraDevice{},
			AutoDiscover: true,
			AudioInput:   "default",
			AudioNode:    "/dev/snd",
		},
		Stream: StreamConfig{
			FFmpegPath:     "ffmpeg",
			VideoCodec:     "libx264",
			AudioCodec:     "aac",
			AudioBitrate:   128000,
			EncoderPreset:  "veryfast",
			PreviewQuality: 3,
			CheckEndpoint:  true,
			ConnectTimeout: 5 * time.Second,
		},
		Permission: PermissionConfig{
			Mode: "device",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// path が空でなければYAMLファイルを読み込み、その後に環境変数で上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Permission.Mode = getEnvOrDefault("PERMISSION_MODE", cfg.Permission.Mode)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Stream.FFmpegPath = getEnvOrDefault("FFMPEG_PATH", cfg.Stream.FFmpegPath)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ResultTimeout < 0 {
		return fmt.Errorf("無効な結果待ちタイムアウト: %s", c.Server.ResultTimeout)
	}

	// カメラ設定の検証
	if len(c.Camera.Devices) == 0 && !c.Camera.AutoDiscover {
		return fmt.Errorf("カメラデバイスが設定されておらず自動検出も無効です")
	}
	names := make(map[string]bool, len(c.Camera.Devices))
	for i, d := range c.Camera.Devices {
		if d.Name == "" {
			return fmt.Errorf("カメラ %d の名前が空です", i)
		}
		if d.Device == "" {
			return fmt.Errorf("カメラ %s のデバイスパスが空です", d.Name)
		}
		if names[d.Name] {
			return fmt.Errorf("カメラ名が重複しています: %s", d.Name)
		}
		names[d.Name] = true

		switch d.LensFacing {
		case "", "front", "back", "external":
		default:
			return fmt.Errorf("カメラ %s の lens_facing が無効: %s", d.Name, d.LensFacing)
		}
		switch d.SensorOrientation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("カメラ %s の sensor_orientation が無効: %d", d.Name, d.SensorOrientation)
		}
	}

	switch c.Permission.Mode {
	case "device", "grant", "deny":
	default:
		return fmt.Errorf("無効なパーミッションモード: %s", c.Permission.Mode)
	}

	if c.Stream.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path が空です")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
