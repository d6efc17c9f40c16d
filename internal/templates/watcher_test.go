// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package templates

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/n8n-agent/internal/log"
)

func TestWatcher_RebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, body []byte) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), body, 0o644))
	}
	write("alerts.json", workflowJSON("Alerts", "n8n-nodes-base.webhook", "n8n-nodes-base.slack"))

	rebuild := func(ctx context.Context) (*Index, error) {
		return Build(ctx, NewDirCorpus(dir), WithLogger(log.Discard()))
	}
	ix, err := rebuild(context.Background())
	require.NoError(t, err)
	holder := NewHolder(ix)

	var rebuilds atomic.Int32
	w, err := NewWatcher(WatcherConfig{
		Dir:           dir,
		Holder:        holder,
		Rebuild:       rebuild,
		OnRebuild:     func(*Index, error) { rebuilds.Add(1) },
		Logger:        log.Discard(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	write("team/backup.json", workflowJSON("Backup", "n8n-nodes-base.scheduleTrigger", "n8n-nodes-base.googleDrive"))

	require.Eventually(t, func() bool {
		return holder.Load().Len() == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotSame(t, ix, holder.Load())
	assert.GreaterOrEqual(t, rebuilds.Load(), int32(1))
}

func TestWatcher_FailedRebuildKeepsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	require.NoError(t, os.WriteFile(path, workflowJSON("Alerts", "n8n-nodes-base.slack"), 0o644))

	ix, err := Build(context.Background(), NewDirCorpus(dir), WithLogger(log.Discard()))
	require.NoError(t, err)
	holder := NewHolder(ix)

	failed := make(chan error, 4)
	w, err := NewWatcher(WatcherConfig{
		Dir:    dir,
		Holder: holder,
		Rebuild: func(ctx context.Context) (*Index, error) {
			return Build(ctx, NewDirCorpus(dir), WithLogger(log.Discard()))
		},
		OnRebuild: func(_ *Index, err error) {
			if err != nil {
				failed <- err
			}
		},
		Logger:        log.Discard(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	// Leaves the corpus empty.
	require.NoError(t, os.Remove(path))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not attempted")
	}
	assert.Same(t, ix, holder.Load())
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Dir: t.TempDir(), Holder: &Holder{}})
	assert.Error(t, err)
}
