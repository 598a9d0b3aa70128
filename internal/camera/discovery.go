package camera

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LinuxDiscovery はLinux環境でのV4L2カメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	var devices []string

	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	for _, match := range matches {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) && d.IsMainCamera(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !isV4L2Device(device) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}
	modes, formats := parseFormatsExt(string(output))

	return &DeviceInfo{
		Device:  device,
		Name:    d.generateDeviceName(device),
		Driver:  "v4l2",
		Modes:   modes,
		Formats: formats,
	}, nil
}

// IsMainCamera はデバイスが映像を取得できるカラーカメラかどうかを判定する
// メタデータ用のノード（同じカメラの video1 など）は除外される
func (d *LinuxDiscovery) IsMainCamera(ctx context.Context, device string) bool {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return false
	}

	_, formats := parseFormatsExt(string(output))
	for _, f := range formats {
		if f == "YUYV" || f == "MJPG" || f == "H264" {
			return true
		}
	}
	return false
}

// generateDeviceName はデバイスパスから表示名を生成する
func (d *LinuxDiscovery) generateDeviceName(device string) string {
	if realName := getV4L2DeviceName(device); realName != "" {
		return realName
	}

	// フォールバック: デバイス番号から生成
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// getV4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func getV4L2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}

	return ""
}

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)
	formatLinePattern  = regexp.MustCompile(`^\[\d+\]:\s*'(\w+)'`)
	sizeLinePattern    = regexp.MustCompile(`^Size:\s*\w+\s+(\d+)x(\d+)`)
	fpsLinePattern     = regexp.MustCompile(`\(([\d.]+)\s*fps\)`)
)

// isV4L2Device はデバイスパスが /dev/videoN の形かチェックする
func isV4L2Device(device string) bool {
	return videoDevicePattern.MatchString(device)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := videoDevicePattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// parseFormatsExt は `v4l2-ctl --list-formats-ext` の出力を解析する
// 同じ解像度が複数フォーマットで報告された場合は最大のフレームレートを採用する
func parseFormatsExt(output string) ([]Mode, []string) {
	best := make(map[Resolution]int)
	var formats []string
	var current *Resolution

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := formatLinePattern.FindStringSubmatch(line); m != nil {
			formats = append(formats, m[1])
			current = nil
			continue
		}

		if m := sizeLinePattern.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			res := Resolution{Width: w, Height: h}
			if _, ok := best[res]; !ok {
				best[res] = 0
			}
			current = &res
			continue
		}

		if current != nil && strings.HasPrefix(line, "Interval:") {
			if m := fpsLinePattern.FindStringSubmatch(line); m != nil {
				fps, err := strconv.ParseFloat(m[1], 64)
				if err == nil {
					rounded := int(math.Round(fps))
					if rounded > best[*current] {
						best[*current] = rounded
					}
				}
			}
		}
	}

	modes := make([]Mode, 0, len(best))
	for res, fps := range best {
		modes = append(modes, Mode{Width: res.Width, Height: res.Height, FrameRate: fps})
	}
	sortModes(modes)
	return modes, formats
}

// sortModes は画素数の大きい順（同じなら幅の大きい順）に並べる
func sortModes(modes []Mode) {
	sort.Slice(modes, func(i, j int) bool {
		ai, aj := modes[i].Width*modes[i].Height, modes[j].Width*modes[j].Height
		if ai != aj {
			return ai > aj
		}
		if modes[i].Width != modes[j].Width {
			return modes[i].Width > modes[j].Width
		}
		return modes[i].FrameRate > modes[j].FrameRate
	})
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.RWMutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
	scanErr     error
}

// DefaultMockModes はモックデバイスが報告する撮影モード
var DefaultMockModes = []Mode{
	{Width: 1920, Height: 1080, FrameRate: 30},
	{Width: 1280, Height: 720, FrameRate: 30},
	{Width: 720, Height: 480, FrameRate: 30},
	{Width: 640, Height: 480, FrameRate: 30},
	{Width: 320, Height: 240, FrameRate: 30},
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.scanErr != nil {
		return nil, m.scanErr
	}
	result := make([]string, len(m.devices))
	copy(result, m.devices)
	return result, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}

	// コピーを返す
	result := *info
	result.Modes = append([]Mode(nil), info.Modes...)
	return &result, nil
}

// AddDevice はテスト用にデフォルトの撮影モードを持つデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.AddDeviceWithModes(device, DefaultMockModes)
}

// AddDeviceWithModes はテスト用に撮影モードを指定してデバイスを追加する
func (m *MockDiscovery) AddDeviceWithModes(device string, modes []Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deviceInfos[device]; !exists {
		m.devices = append(m.devices, device)
	}

	sorted := append([]Mode(nil), modes...)
	sortModes(sorted)
	m.deviceInfos[device] = &DeviceInfo{
		Device:  device,
		Name:    fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:  "mock",
		Modes:   sorted,
		Formats: []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}

// SetScanError はテスト用にスキャン時のエラーを設定する
func (m *MockDiscovery) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}
