package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/feed"
)

// reloadDelay 合并同一次原子写入产生的多个事件。
const reloadDelay = 200 * time.Millisecond

// WatchFeed 监听 feed 文件所在目录，feed 被替换或修改后重新加载看板。
// 监听的是目录而不是文件：原子 rename 会让文件级 watch 失效。
// ctx 结束时关闭 watcher；返回的 channel 在 goroutine 退出后关闭。
func WatchFeed(ctx context.Context, feedPath string, board *feed.Board, clock clockwork.Clock, log zerolog.Logger) (<-chan struct{}, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	target := filepath.Clean(feedPath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()

		var (
			mu    sync.Mutex
			timer clockwork.Timer
		)
		schedule := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = clock.AfterFunc(reloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				if _, err := board.Load(ctx); err == nil {
					log.Info().Str("path", target).Msg("feed 文件变化，已重新加载")
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					schedule()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("监听 feed 文件出错")
			}
		}
	}()
	return done, nil
}
