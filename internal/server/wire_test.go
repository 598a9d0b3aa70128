package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrtmp/internal/camera"
	"camrtmp/internal/channel"
	"camrtmp/internal/config"
	"camrtmp/internal/logger"
	"camrtmp/internal/permission"
)

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Permission.Mode = "grant"
	cfg.Camera.Devices = []config.CameraDevice{
		{Name: "0", Device: "/dev/video0", LensFacing: "back", SensorOrientation: 90},
	}

	app, err := Build(cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(app.Sessions.Close)

	require.NotNil(t, app.Server)
	require.NotNil(t, app.Dispatcher)

	// 固定カメラは自動検出を使わずに公開される
	result := channel.NewFutureResult(channel.MethodAvailableCameras, logger.Discard())
	require.NoError(t, app.Dispatcher.Handle(context.Background(),
		channel.MethodCall{Method: channel.MethodAvailableCameras}, result))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := result.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, channel.KindSuccess, outcome.Kind)

	list := outcome.Value.([]map[string]any)
	require.Len(t, list, 1)
	assert.Equal(t, "0", list[0]["name"])
	assert.Equal(t, "back", list[0]["lensFacing"])
	assert.Equal(t, 90, list[0]["sensorOrientation"])
}

func TestNewGate(t *testing.T) {
	registry := camera.NewRegistry(camera.NewMockDiscovery(nil), nil)

	tests := []struct {
		name    string
		mode    string
		granted bool
		wantErr bool
	}{
		{"常に許可", "grant", true, false},
		{"常に拒否", "deny", false, false},
		// カメラが一つも無いため拒否される
		{"デバイスで判定", "device", false, false},
		{"不明なモード", "ask", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Permission.Mode = tt.mode

			gate, err := newGate(cfg, registry, logger.Discard())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			pending := gate.Request(context.Background(), false)
			select {
			case <-pending.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("パーミッション要求が完了しませんでした")
			}
			assert.Equal(t, tt.granted, pending.Result().Granted())
			if !tt.granted {
				assert.Equal(t, permission.CodeCameraPermission, pending.Result().Code)
			}
		})
	}
}

func TestStaticCameras(t *testing.T) {
	got := staticCameras([]config.CameraDevice{
		{Name: "front", Device: "/dev/video2", LensFacing: "front"},
		{Name: "usb", Device: "/dev/video4"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, camera.LensFront, got[0].LensFacing)
	assert.Equal(t, "/dev/video2", got[0].Device)
	assert.Equal(t, camera.LensExternal, got[1].LensFacing, "省略時は外付け扱い")
}
