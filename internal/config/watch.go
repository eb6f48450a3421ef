// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/log"
	"github.com/cloudwego/contentflow/internal/pipeline"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes and hands the new
// config and registry to onChange. An edit that fails to load goes to
// onError and the caller keeps its previous registry. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config, *pipeline.Registry), onError func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}
	defer w.Close()

	// watch the directory so editors that replace the file are seen
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watch %s", path)
	}
	if onError == nil {
		onError = func(err error) { log.Error("config watch: %v", err) }
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onError(err)
		case <-pending:
			pending = nil
			c, err := Load(path)
			if err != nil {
				onError(err)
				continue
			}
			reg, err := c.Registry()
			if err != nil {
				onError(err)
				continue
			}
			log.Info("config %s reloaded: %d tasks, %d phases", path, len(reg.TaskKeys()), len(reg.PhaseOrder()))
			onChange(c, reg)
		}
	}
}
