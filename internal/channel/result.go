package channel

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"camrtmp/internal/metrics"
)

// Result はコマンドの結果の受け口。いずれか一つのメソッドがちょうど一度呼ばれる
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()

	// Fatal は非同期に発生した想定外の失敗を伝える
	Fatal(err error)
}

// Kind は結果の種類
type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindNotImplemented
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindNotImplemented:
		return "not_implemented"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome は確定した結果
type Outcome struct {
	Kind    Kind
	Value   any
	Code    string
	Message string // 空の場合はメッセージ無し
	Details any
	Err     error
}

// FutureResult は最初の一回だけを受け付ける Result
// 二回目以降の呼び出しはログに記録して破棄する
type FutureResult struct {
	method string
	logger *logrus.Logger

	once    sync.Once
	done    chan struct{}
	outcome Outcome

	mu      sync.Mutex
	ignored int
}

// NewFutureResult は新しいFutureResultを作成する
func NewFutureResult(method string, logger *logrus.Logger) *FutureResult {
	return &FutureResult{method: method, logger: logger, done: make(chan struct{})}
}

func (f *FutureResult) Success(value any) {
	f.resolve(Outcome{Kind: KindSuccess, Value: value})
}

func (f *FutureResult) Error(code, message string, details any) {
	f.resolve(Outcome{Kind: KindError, Code: code, Message: message, Details: details})
}

func (f *FutureResult) NotImplemented() {
	f.resolve(Outcome{Kind: KindNotImplemented})
}

func (f *FutureResult) Fatal(err error) {
	f.resolve(Outcome{Kind: KindFatal, Err: err})
}

func (f *FutureResult) resolve(o Outcome) {
	resolved := false
	f.once.Do(func() {
		f.outcome = o
		close(f.done)
		resolved = true
	})
	if resolved {
		return
	}

	f.mu.Lock()
	f.ignored++
	f.mu.Unlock()
	f.logger.WithFields(logrus.Fields{
		"method": f.method,
		"kind":   o.Kind.String(),
	}).Warn("結果は既に返されているため破棄しました")
}

// Done は結果が確定したときに閉じられるチャンネルを返す
func (f *FutureResult) Done() <-chan struct{} { return f.done }

// Wait は結果が確定するか ctx が終了するまで待つ
func (f *FutureResult) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Ignored は破棄された結果の数を返す
func (f *FutureResult) Ignored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ignored
}

// instrumented は結果の確定時にメトリクスを記録する
type instrumented struct {
	Result
	method  string
	start   time.Time
	metrics *metrics.Metrics
	once    sync.Once
}

func (r *instrumented) observe(kind Kind) {
	r.once.Do(func() {
		r.metrics.ObserveCommand(r.method, kind.String(), time.Since(r.start))
	})
}

func (r *instrumented) Success(value any) {
	r.observe(KindSuccess)
	r.Result.Success(value)
}

func (r *instrumented) Error(code, message string, details any) {
	r.observe(KindError)
	r.Result.Error(code, message, details)
}

func (r *instrumented) NotImplemented() {
	r.observe(KindNotImplemented)
	r.Result.NotImplemented()
}

func (r *instrumented) Fatal(err error) {
	r.observe(KindFatal)
	r.Result.Fatal(err)
}
