package streamer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FFmpegPath:     "ffmpeg",
		VideoCodec:     "libx264",
		AudioCodec:     "aac",
		AudioBitrate:   128000,
		EncoderPreset:  "veryfast",
		PreviewQuality: 3,
		AudioInput:     "default",
	}
}

// argValue は引数列からフラグの直後の値を返す
func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("フラグ %s が見つかりません: %v", flag, args)
	return ""
}

func TestPreviewArgs(t *testing.T) {
	args := previewArgs(testConfig(), "/dev/video0", 1280, 720, 30)

	assert.Equal(t, "/dev/video0", argValue(t, args, "-i"))
	assert.Equal(t, "1280x720", argValue(t, args, "-video_size"))
	assert.Equal(t, "30", argValue(t, args, "-framerate"))
	assert.Equal(t, "mjpeg", argValue(t, args, "-c:v"))
	assert.Equal(t, "3", argValue(t, args, "-q:v"))
	assert.Equal(t, "pipe:1", args[len(args)-1])

	// サイズ未設定の場合はデバイスの既定値を使う
	args = previewArgs(testConfig(), "/dev/video0", 0, 0, 0)
	assert.NotContains(t, args, "-video_size")
	assert.NotContains(t, args, "-framerate")
}

func TestStreamArgs(t *testing.T) {
	v := VideoParams{Width: 1280, Height: 720, FPS: 30, Bitrate: 1200000, Rotation: 90}
	url := "rtmp://example.com/live/key"

	t.Run("音声あり", func(t *testing.T) {
		args := streamArgs(testConfig(), "/dev/video0", v, true, url)
		joined := strings.Join(args, " ")

		assert.Contains(t, joined, "-f v4l2 -framerate 30 -video_size 1280x720 -i /dev/video0")
		assert.Contains(t, joined, "-f alsa -i default")
		assert.Equal(t, "[0:v]split=2[enc][prev];[enc]transpose=1[out]", argValue(t, args, "-filter_complex"))
		assert.Contains(t, joined, "-map 1:a -c:a aac -b:a 128000")
		assert.Equal(t, "1200000", argValue(t, args, "-b:v"))
		assert.Equal(t, "2400000", argValue(t, args, "-bufsize"))
		assert.Equal(t, "60", argValue(t, args, "-g"))
		assert.Contains(t, joined, "-f flv "+url)
		assert.Equal(t, "pipe:1", args[len(args)-1])
	})

	t.Run("音声なし", func(t *testing.T) {
		args := streamArgs(testConfig(), "/dev/video0", v, false, url)
		joined := strings.Join(args, " ")
		assert.NotContains(t, joined, "alsa")
		assert.NotContains(t, joined, "1:a")
	})
}

func TestRotationFilter(t *testing.T) {
	tests := []struct {
		rotation int
		expected string
	}{
		{0, "null"},
		{90, "transpose=1"},
		{180, "transpose=1,transpose=1"},
		{270, "transpose=2"},
		{45, "null"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, rotationFilter(tt.rotation), "rotation %d", tt.rotation)
	}
}

func TestVideoParams_Validate(t *testing.T) {
	valid := VideoParams{Width: 640, Height: 480, FPS: 30, Bitrate: 500000, Rotation: 0}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*VideoParams)
	}{
		{"幅が0", func(v *VideoParams) { v.Width = 0 }},
		{"フレームレートが0", func(v *VideoParams) { v.FPS = 0 }},
		{"ビットレートが負", func(v *VideoParams) { v.Bitrate = -1 }},
		{"回転角が不正", func(v *VideoParams) { v.Rotation = 45 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := valid
			tt.mutate(&v)
			assert.Error(t, v.Validate())
		})
	}
}
