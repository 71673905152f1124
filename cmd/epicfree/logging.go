package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/John-Robertt/epicfree/internal/config"
)

// newLogger 按配置构造日志：
// - stderr 是终端时用 ConsoleWriter，否则输出 JSON 行
// - 配置了 log.file 时额外写入按大小滚动的文件（始终 JSON）
// 返回的 close 负责关闭日志文件。
func newLogger(eff config.EffectiveConfig, stderr io.Writer) (zerolog.Logger, func()) {
	var console io.Writer = stderr
	if f, ok := stderr.(*os.File); ok && isTTY(f) {
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	}

	out := console
	closeFn := func() {}
	if eff.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   eff.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = zerolog.MultiLevelWriter(console, lj)
		closeFn = func() { _ = lj.Close() }
	}

	log := zerolog.New(out).Level(eff.LogLevel).With().Timestamp().Logger()
	return log, closeFn
}
