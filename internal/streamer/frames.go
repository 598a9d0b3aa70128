package streamer

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// jpegSplitter はMJPEGのバイト列をJPEGフレーム単位に分割する
type jpegSplitter struct {
	buf bytes.Buffer
}

// write はデータを追加し、完成したフレームごとに emit を呼ぶ
func (s *jpegSplitter) write(p []byte, emit func([]byte)) {
	s.buf.Write(p)

	// JPEGマーカーを探してフレームを分割
	data := s.buf.Bytes()
	for {
		startIdx := bytes.Index(data, jpegStart)
		if startIdx == -1 {
			// 開始マーカーの前半だけが届いている可能性があるので最後の1バイトは残す
			if n := len(data); n > 0 && data[n-1] == 0xFF {
				data = data[n-1:]
			} else {
				data = nil
			}
			break
		}

		endIdx := bytes.Index(data[startIdx+2:], jpegEnd)
		if endIdx == -1 {
			// 完全なフレームがまだない
			data = data[startIdx:]
			break
		}

		endIdx += startIdx + 2 + 2 // マーカーのサイズを含める
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		emit(frame)

		data = data[endIdx:]
	}

	rest := append([]byte(nil), data...)
	s.buf.Reset()
	s.buf.Write(rest)
}

// readJPEGFrames はEOFまでフレームを読み取る
func readJPEGFrames(r io.Reader, emit func([]byte)) error {
	var splitter jpegSplitter
	buffer := make([]byte, 256*1024)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			splitter.write(buffer[:n], emit)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// scanProgressLines は改行またはキャリッジリターンで区切る bufio.SplitFunc
// ffmpeg の進捗表示は \r で上書きされるため
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimSpace(data[:i]), nil
	}
	if atEOF {
		return len(data), bytes.TrimSpace(data), nil
	}
	return 0, nil, nil
}

// readProgress は ffmpeg の標準エラー出力を行ごとに処理する
func readProgress(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			onLine(line)
		}
	}
}

// parseBitrate は進捗行からビットレート（bit/s）を取り出す
// 例: "frame=  120 fps= 30 q=23.0 size=    512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1x"
func parseBitrate(line string) (int64, bool) {
	idx := strings.Index(line, "bitrate=")
	if idx == -1 {
		return 0, false
	}
	value := strings.TrimLeft(line[idx+len("bitrate="):], " ")
	if end := strings.IndexByte(value, ' '); end != -1 {
		value = value[:end]
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "kbits/s"):
		value = strings.TrimSuffix(value, "kbits/s")
		multiplier = 1000
	case strings.HasSuffix(value, "Mbits/s"):
		value = strings.TrimSuffix(value, "Mbits/s")
		multiplier = 1000 * 1000
	case strings.HasSuffix(value, "bits/s"):
		value = strings.TrimSuffix(value, "bits/s")
	default:
		return 0, false
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f*multiplier + 0.5), true
}
