package resolver

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SeedWatcher 监视名称表文件，变化时重新加载到目录
//
// 监视的是文件所在目录，编辑器以替换方式保存文件时也能收到事件。
type SeedWatcher struct {
	path     string
	dir      *Directory
	watcher  *fsnotify.Watcher
	onReload func(err error)

	done     chan struct{}
	stopOnce sync.Once
}

// NewSeedWatcher 创建监视器
//
// onReload 在每次加载后调用，可为 nil。
func NewSeedWatcher(path string, dir *Directory, onReload func(err error)) (*SeedWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &SeedWatcher{
		path:     abs,
		dir:      dir,
		watcher:  watcher,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start 加载一次并开始监视
func (w *SeedWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch seed file: %w", err)
	}

	w.reload()
	go w.watchLoop()
	return nil
}

// Stop 停止监视
func (w *SeedWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *SeedWatcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				log.Info("名称表文件已更新", "path", w.path, "op", event.Op.String())
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("名称表监听错误", "err", err)
		}
	}
}

func (w *SeedWatcher) reload() {
	names, err := LoadSeedFile(w.path)
	if err != nil {
		// 保留上一次成功加载的内容
		log.Warn("加载名称表文件失败", "path", w.path, "err", err)
	} else {
		w.dir.ReplaceSeed(names)
		log.Debug("名称表文件已加载", "path", w.path, "names", len(names))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
