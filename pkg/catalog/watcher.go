/*
 * Copyright 2025 the homeserver authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package catalog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog when one of its documents is rewritten on
// disk by an external editor. Rewrites performed through Replace also
// trigger an event; reloading after our own atomic write is harmless and
// keeps the code path single.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := map[string]bool{
		filepath.Clean(c.paths.ValueTypes):    true,
		filepath.Clean(c.paths.PropertyTypes): true,
		filepath.Clean(c.paths.DeviceTypes):   true,
		filepath.Clean(c.paths.Services):      true,
	}

	// Watch the directory: atomic replace-writes swap the inode, and a
	// watch on the file itself would be dropped after the first rename.
	if err := watcher.Add(filepath.Dir(c.paths.ValueTypes)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if !watched[filepath.Clean(event.Name)] {
					continue
				}

				c.log.Info().Str("path", event.Name).Msg("Catalog document changed on disk, reloading")

				if err := c.reload(ctx); err != nil {
					c.log.Error().Err(err).Msg("Catalog reload failed, keeping previous snapshot")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				c.log.Warn().Err(err).Msg("Catalog watcher error")
			}
		}
	}()

	return nil
}

func (c *Catalog) reload(ctx context.Context) error {
	fresh, err := New(ctx, c.paths, c.log)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.Store(fresh.current())

	return nil
}
