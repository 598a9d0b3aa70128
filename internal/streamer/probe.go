package streamer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

const defaultRTMPPort = "1935"

var (
	// ErrAuthFailed はRTMPサーバーが認証を拒否したことを表す
	ErrAuthFailed = errors.New("rtmp authentication failed")

	// ErrUnsupportedScheme は rtmp:// 以外のURLを表す
	ErrUnsupportedScheme = errors.New("unsupported rtmp url scheme")
)

// Endpoint はRTMPの送出先
type Endpoint struct {
	Scheme         string
	Addr           string // host:port
	App            string
	StreamKey      string
	TCURL          string
	HasCredentials bool
}

// ParseEndpoint はRTMPのURLを分解する
// rtmp://host[:port]/app[/instance]/streamKey の最後の要素をストリームキーとして扱う
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("URLの解析に失敗: %w", err)
	}
	switch u.Scheme {
	case "rtmp", "rtmps":
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("ホストが指定されていません: %s", raw)
	}

	port := u.Port()
	if port == "" {
		port = defaultRTMPPort
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return Endpoint{}, fmt.Errorf("アプリケーション名が指定されていません: %s", raw)
	}

	app, key := path, ""
	if i := strings.LastIndex(path, "/"); i != -1 {
		app, key = path[:i], path[i+1:]
	}

	return Endpoint{
		Scheme:         u.Scheme,
		Addr:           addr,
		App:            app,
		StreamKey:      key,
		TCURL:          fmt.Sprintf("%s://%s/%s", u.Scheme, addr, app),
		HasCredentials: u.User != nil || u.Query().Has("auth"),
	}, nil
}

// Prober は送出前に送出先へ接続できるか確認する
type Prober interface {
	Probe(ctx context.Context, rawURL string) error
}

// RTMPProbe は go-rtmp で connect コマンドまでを行い、送出先を確認する
type RTMPProbe struct {
	logger  *logrus.Logger
	timeout time.Duration
}

// NewRTMPProbe は新しいRTMPProbeを作成する
func NewRTMPProbe(logger *logrus.Logger, timeout time.Duration) *RTMPProbe {
	return &RTMPProbe{logger: logger, timeout: timeout}
}

// Probe はRTMPサーバーへ接続し、アプリケーションへの connect が受け付けられるか確認する
func (p *RTMPProbe) Probe(ctx context.Context, rawURL string) error {
	ep, err := ParseEndpoint(rawURL)
	if err != nil {
		return err
	}
	if ep.Scheme != "rtmp" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}

	dialer := &net.Dialer{Timeout: p.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	conn, err := rtmp.DialWithDialer(dialer, "rtmp", ep.Addr, &rtmp.ConnConfig{
		Logger: p.logger,
	})
	if err != nil {
		return fmt.Errorf("RTMPサーバー %s への接続に失敗: %w", ep.Addr, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Connect(&rtmpmsg.NetConnectionConnect{
			Command: rtmpmsg.NetConnectionConnectCommand{
				App:      ep.App,
				Type:     "nonprivate",
				FlashVer: "FMLE/3.0 (compatible; camrtmp)",
				TCURL:    ep.TCURL,
			},
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if isAuthError(err) {
				return fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			return fmt.Errorf("アプリケーション %s への connect が拒否されました: %w", ep.App, err)
		}
		p.logger.WithFields(logrus.Fields{
			"addr": ep.Addr,
			"app":  ep.App,
		}).Debug("RTMPエンドポイントの確認に成功しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("RTMPエンドポイントの確認がタイムアウトしました: %w", ctx.Err())
	}
}

// isAuthError はサーバーの応答が認証エラーかどうかを判定する
func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized")
}
