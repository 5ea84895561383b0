package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig はローテーションするログファイルの設定。
// Pathが空の場合はファイルに出力しない。
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// SetupWithFile はwとローテーションするログファイルの両方に出力するロガーを
// グローバルロガーとして設定する。返り値のio.Closerでファイルを閉じる。
// cfg.Pathが空の場合はSetupDefaultと同じで、Closerは何もしない。
func SetupWithFile(w io.Writer, cfg FileConfig) io.Closer {
	if w == nil {
		w = os.Stdout
	}
	if cfg.Path == "" {
		SetupDefault(w)
		return nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    nonZero(cfg.MaxSizeMB, 100),
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	slog.SetDefault(Setup(io.MultiWriter(w, file)))
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
