package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestConfigure はレベルと形式の設定をテストする
func TestConfigure(t *testing.T) {
	t.Cleanup(func() {
		_ = Configure("info", "text")
	})

	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"テキスト形式", "debug", "text", false},
		{"JSON形式", "warn", "json", false},
		{"形式の省略", "info", "", false},
		{"不明なレベル", "loud", "text", true},
		{"不明な形式", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Configure(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			want, _ := logrus.ParseLevel(tt.level)
			if Log.GetLevel() != want {
				t.Errorf("ログレベル = %v, want %v", Log.GetLevel(), want)
			}
			_, isJSON := Log.Formatter.(*logrus.JSONFormatter)
			if isJSON != (tt.format == "json") {
				t.Errorf("JSON形式 = %v, format %q", isJSON, tt.format)
			}
		})
	}
}

// TestDiscard は出力を捨てるロガーをテストする
func TestDiscard(t *testing.T) {
	l := Discard()
	if l == Log {
		t.Fatal("Discard はデフォルトのロガーとは別のインスタンスを返すべきです")
	}
	l.Info("出力されない")
}
