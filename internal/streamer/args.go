package streamer

import (
	"fmt"
	"strconv"
)

// previewArgs はプレビュー専用プロセスの引数を組み立てる
// 出力は標準出力へのMJPEGフレーム列
func previewArgs(cfg Config, device string, width, height, fps int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostats",
		"-f", "v4l2",
	}
	if fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(fps))
	}
	if width > 0 && height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
	}
	args = append(args,
		"-i", device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(cfg.PreviewQuality),
		"pipe:1",
	)
	return args
}

// streamArgs はRTMP送出プロセスの引数を組み立てる
// 映像は二分岐し、一方をエンコードしてFLVで送出、もう一方をMJPEGプレビューとして標準出力へ書く
func streamArgs(cfg Config, device string, v VideoParams, audio bool, url string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-stats",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(v.FPS),
		"-video_size", fmt.Sprintf("%dx%d", v.Width, v.Height),
		"-i", device,
	}
	if audio {
		args = append(args, "-f", "alsa", "-i", cfg.AudioInput)
	}

	filter := fmt.Sprintf("[0:v]split=2[enc][prev];[enc]%s[out]", rotationFilter(v.Rotation))
	args = append(args, "-filter_complex", filter)

	// RTMP出力
	bitrate := strconv.Itoa(v.Bitrate)
	args = append(args, "-map", "[out]")
	if audio {
		args = append(args,
			"-map", "1:a",
			"-c:a", cfg.AudioCodec,
			"-b:a", strconv.Itoa(cfg.AudioBitrate),
		)
	}
	args = append(args,
		"-c:v", cfg.VideoCodec,
		"-preset", cfg.EncoderPreset,
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", strconv.Itoa(v.Bitrate*2),
		"-g", strconv.Itoa(v.FPS*2),
		"-f", "flv", url,
	)

	// プレビュー出力
	args = append(args,
		"-map", "[prev]",
		"-an",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(cfg.PreviewQuality),
		"pipe:1",
	)
	return args
}

// rotationFilter は回転角に対応する映像フィルタを返す
func rotationFilter(rotation int) string {
	switch rotation {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return "null"
	}
}
