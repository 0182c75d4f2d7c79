package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses bursts of editor writes into one reindex.
const debounce = 500 * time.Millisecond

// Watch reindexes files under root as they change until ctx is done.
func (in *Ingester) Watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	in.log.Info().Str("source", root).Msg("watching for changes")

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
					continue
				}
			}
			if !Supported(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			for path := range pending {
				in.apply(ctx, root, path)
			}
			pending = map[string]struct{}{}
		}
	}
}

// apply drops the chunks of a file that no longer exists and reindexes any
// other file. Editors that save by rename leave the path present.
func (in *Ingester) apply(ctx context.Context, root, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		source := relSource(root, path)
		if err := in.index.DeleteSource(ctx, source); err != nil {
			in.log.Warn().Err(err).Str("file", source).Msg("remove chunks")
			return
		}
		in.log.Info().Str("file", source).Msg("chunks removed")
		return
	}
	if _, err := in.IngestFile(ctx, root, path); err != nil {
		in.log.Warn().Err(err).Str("file", path).Msg("reindex failed")
	}
}
