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
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/n8n-agent/internal/log"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// workflowJSON renders a minimal workflow with the given node types.
func workflowJSON(name string, nodeTypes ...string) []byte {
	var nodes []string
	for i, nt := range nodeTypes {
		nodes = append(nodes, fmt.Sprintf(`{"name":"n%d","type":%q}`, i, nt))
	}
	return []byte(fmt.Sprintf(`{"name":%q,"nodes":[%s],"connections":{}}`, name, strings.Join(nodes, ",")))
}

func buildMap(t *testing.T, files map[string][]byte) *Index {
	t.Helper()
	fsys := fstest.MapFS{}
	for id, body := range files {
		fsys[id+".json"] = &fstest.MapFile{Data: body}
	}
	ix, err := Build(context.Background(), NewFSCorpus(fsys, "mem"), WithLogger(log.Discard()))
	require.NoError(t, err)
	return ix
}

func TestBuild_CorpusUnreadable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := Build(context.Background(), NewDirCorpus(dir), WithLogger(log.Discard()))
	require.Error(t, err)

	var ce *agenterrors.CorpusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, agenterrors.CorpusUnreadable, ce.Kind)
	assert.Equal(t, dir, ce.Location)
}

func TestBuild_CorpusEmpty(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no files":       {"README.md": {Data: []byte("hi")}},
		"nothing usable": {"bad.json": {Data: []byte("{")}, "empty.json": {Data: []byte(`{"nodes":[]}`)}},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Build(context.Background(), NewFSCorpus(fsys, "mem"), WithLogger(log.Discard()))
			var ce *agenterrors.CorpusError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, agenterrors.CorpusEmpty, ce.Kind)
			assert.False(t, agenterrors.IsRetryable(err))
		})
	}
}

func TestBuild_SkipsInvalidTemplates(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"good":    workflowJSON("Good", "n8n-nodes-base.webhook", "n8n-nodes-base.slack"),
		"broken":  []byte(`{"nodes": [`),
		"scalar":  []byte(`42`),
		"also-ok": workflowJSON("Also", "n8n-nodes-base.manualTrigger"),
	})

	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, 2, ix.Skipped())
	_, ok := ix.Get("good")
	assert.True(t, ok)
	_, ok = ix.Get("broken")
	assert.False(t, ok)

	recs := ix.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "also-ok", recs[0].ID, "records are sorted by id")
}

func TestBuild_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, Starter(), WithLogger(log.Discard()))
	var ce *agenterrors.CorpusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, agenterrors.CorpusUnreadable, ce.Kind)
}

func TestIndex_Body(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"wrapped": []byte(`{"name":"Outer","workflow":{"nodes":[{"type":"n8n-nodes-base.webhook"}],"connections":{}}}`),
		"plain": []byte(`{
			// comment
			"name": "Plain",
			"nodes": [{"type": "n8n-nodes-base.slack"}],
		}`),
	})
	ctx := context.Background()

	body, err := ix.Body(ctx, "wrapped")
	require.NoError(t, err)
	var wf map[string]any
	require.NoError(t, json.Unmarshal(body, &wf))
	assert.Equal(t, "Outer", wf["name"])
	assert.Contains(t, wf, "nodes")
	assert.NotContains(t, wf, "workflow")

	body, err = ix.Body(ctx, "plain")
	require.NoError(t, err)
	assert.True(t, json.Valid(body))

	_, err = ix.Body(ctx, "nope")
	var nf *agenterrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
}

func TestHolder_Swap(t *testing.T) {
	first := buildMap(t, map[string][]byte{"a": workflowJSON("A", "n8n-nodes-base.slack")})
	second := buildMap(t, map[string][]byte{
		"a": workflowJSON("A", "n8n-nodes-base.slack"),
		"b": workflowJSON("B", "n8n-nodes-base.discord"),
	})

	h := NewHolder(first)
	snapshot := h.Load()
	prev := h.Swap(second)

	assert.Same(t, first, prev)
	assert.Same(t, second, h.Load())
	assert.Equal(t, 1, snapshot.Len(), "readers keep the snapshot they loaded")
	assert.Nil(t, (&Holder{}).Load())
}
