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
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/log"
)

func starterIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Build(context.Background(), Starter(), WithLogger(log.Discard()))
	require.NoError(t, err)
	return ix
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Template.ID
	}
	return out
}

func TestSearch_WebhookToSlack(t *testing.T) {
	ix := starterIndex(t)
	in := &intent.Intent{
		Integrations: []string{"Webhook", "Slack"},
		TriggerType:  intent.TriggerWebhook,
		Operations:   []string{"post"},
		RawText:      "Create a webhook that posts to Slack",
	}

	got := ix.Search(in, 5)
	require.NotEmpty(t, got)
	top := got[0].Template
	assert.Equal(t, "webhook-to-slack", top.ID)
	assert.True(t, top.HasIntegration("Webhook"))
	assert.True(t, top.HasIntegration("Slack"))

	for i, c := range got {
		assert.Greater(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Relevance, 1.0)
		assert.Greater(t, c.Relevance, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, c.Score, "results are ordered best first")
		}
	}
}

func TestSearch_ExcludesZeroScore(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"slack":   workflowJSON("Slack", "n8n-nodes-base.webhook", "n8n-nodes-base.slack"),
		"discord": workflowJSON("Discord", "n8n-nodes-base.manualTrigger", "n8n-nodes-base.discord"),
	})

	got := ix.Search(&intent.Intent{
		Integrations: []string{"Slack"},
		TriggerType:  intent.TriggerSchedule,
		RawText:      "post to slack on a discord schedule",
	}, 10)
	assert.Equal(t, []string{"slack"}, ids(got), "text similarity alone never qualifies a template")

	none := ix.Search(&intent.Intent{
		Integrations: []string{"Jira"},
		TriggerType:  intent.TriggerChained,
		RawText:      "open a jira ticket",
	}, 10)
	assert.Empty(t, none)
}

func TestSearch_TriggerMatchAlone(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"cron": workflowJSON("Cron", "n8n-nodes-base.scheduleTrigger", "n8n-nodes-base.httpRequest"),
	})
	got := ix.Search(&intent.Intent{TriggerType: intent.TriggerSchedule}, 3)
	require.Len(t, got, 1)
	assert.Equal(t, "cron", got[0].Template.ID)
}

func TestSearch_IntegrationOutweighsTrigger(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"trigger-only": workflowJSON("T", "n8n-nodes-base.webhook", "n8n-nodes-base.discord"),
		"overlap-only": workflowJSON("O", "n8n-nodes-base.manualTrigger", "n8n-nodes-base.slack"),
	})
	got := ix.Search(&intent.Intent{
		Integrations: []string{"Slack"},
		TriggerType:  intent.TriggerWebhook,
	}, 2)
	assert.Equal(t, []string{"overlap-only", "trigger-only"}, ids(got))
}

func TestSearch_SizeProximity(t *testing.T) {
	big := []string{"n8n-nodes-base.webhook", "n8n-nodes-base.slack"}
	for i := 0; i < 20; i++ {
		big = append(big, "n8n-nodes-base.set")
	}
	ix := buildMap(t, map[string][]byte{
		"large": workflowJSON("Large", big...),
		"small": workflowJSON("Small", "n8n-nodes-base.webhook", "n8n-nodes-base.set", "n8n-nodes-base.slack"),
	})

	in := &intent.Intent{
		Integrations: []string{"Webhook", "Slack"},
		TriggerType:  intent.TriggerWebhook,
		Operations:   []string{"post"},
	}
	got := ix.Search(in, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "small", got[0].Template.ID)
	assert.Greater(t, got[0].Score, got[1].Score)

	// Complex asks get no size bonus, so only the node-count tie-break
	// separates the two.
	in.Operations = []string{"fetch", "filter", "merge", "transform", "post"}
	got = ix.Search(in, 2)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Equal(t, "small", got[0].Template.ID)
}

func TestSearch_TieBreaks(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"b": workflowJSON("x", "n8n-nodes-base.slack", "n8n-nodes-base.set"),
		"a": workflowJSON("x", "n8n-nodes-base.slack", "n8n-nodes-base.set"),
		"c": workflowJSON("x", "n8n-nodes-base.slack"),
	})
	in := &intent.Intent{Integrations: []string{"Slack"}, Operations: []string{"a", "b", "c", "d"}}
	got := ix.Search(in, 10)
	// c is smallest; a and b tie on everything but id.
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
}

func TestSearch_SizeOutranksNameSimilarity(t *testing.T) {
	ix := buildMap(t, map[string][]byte{
		"a": workflowJSON("Generic flow",
			"n8n-nodes-base.webhook", "n8n-nodes-base.set", "n8n-nodes-base.slack"),
		"b": workflowJSON("Webhook posts Slack alerts",
			"n8n-nodes-base.webhook", "n8n-nodes-base.set", "n8n-nodes-base.set", "n8n-nodes-base.slack"),
	})
	in := &intent.Intent{
		Integrations: []string{"Webhook", "Slack"},
		TriggerType:  intent.TriggerWebhook,
		Operations:   []string{"post"},
		RawText:      "webhook posts slack alerts",
	}

	got := ix.Search(in, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Greater(t, got[0].Score, got[1].Score)
	assert.Greater(t, got[1].Similarity, got[0].Similarity)
}

func TestSearch_SimilarityBreaksScoreTies(t *testing.T) {
	// Two and four nodes sit equally far from the baseline, so both
	// templates score the same and similarity decides before node count.
	ix := buildMap(t, map[string][]byte{
		"a-generic": workflowJSON("Generic flow",
			"n8n-nodes-base.webhook", "n8n-nodes-base.slack"),
		"z-alerts": workflowJSON("Webhook posts Slack alerts",
			"n8n-nodes-base.webhook", "n8n-nodes-base.set", "n8n-nodes-base.set", "n8n-nodes-base.slack"),
	})
	in := &intent.Intent{
		Integrations: []string{"Webhook", "Slack"},
		TriggerType:  intent.TriggerWebhook,
		Operations:   []string{"post"},
		RawText:      "webhook posts slack alerts",
	}

	got := ix.Search(in, 2)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Equal(t, []string{"z-alerts", "a-generic"}, ids(got))

	in.RawText = ""
	assert.Equal(t, []string{"a-generic", "z-alerts"}, ids(ix.Search(in, 2)))
}

func TestSearch_Deterministic(t *testing.T) {
	ix := starterIndex(t)
	in := &intent.Intent{
		Integrations: []string{"Slack", "Sheets", "Webhook"},
		TriggerType:  intent.TriggerWebhook,
		Operations:   []string{"append", "notify"},
		RawText:      "when a webhook fires add a row to google sheets and notify slack",
	}
	want := ix.Search(in, 10)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(want, ix.Search(in, 10)); diff != "" {
			t.Fatalf("run %d differs (-first +now):\n%s", i, diff)
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	ix := starterIndex(t)
	in := &intent.Intent{Integrations: []string{"Slack"}, TriggerType: intent.TriggerWebhook}

	all := ix.Search(in, 100)
	require.Greater(t, len(all), 2)
	assert.Equal(t, ids(all[:2]), ids(ix.Search(in, 2)))
	assert.Nil(t, ix.Search(in, 0))
	assert.Nil(t, ix.Search(nil, 5))
}

func TestSearch_Concurrent(t *testing.T) {
	ix := starterIndex(t)
	queries := []*intent.Intent{
		{Integrations: []string{"Webhook", "Slack"}, TriggerType: intent.TriggerWebhook, RawText: "webhook to slack"},
		{Integrations: []string{"Schedule", "Storage"}, TriggerType: intent.TriggerSchedule, RawText: "nightly drive backup"},
		{Integrations: []string{"GitHub", "Discord"}, TriggerType: intent.TriggerWebhook, RawText: "github issues to discord"},
	}
	want := make([][]string, len(queries))
	for i, q := range queries {
		want[i] = ids(ix.Search(q, 3))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for n := 0; n < 60; n++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got := ids(ix.Search(queries[i], 3))
			if diff := cmp.Diff(want[i], got); diff != "" {
				errs <- fmt.Errorf("query %d: %s", i, diff)
			}
		}(n % len(queries))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestWeights_MaxScore(t *testing.T) {
	w := DefaultWeights()
	in := &intent.Intent{
		Integrations: []string{"Slack", "slack", "Webhook"},
		TriggerType:  intent.TriggerWebhook,
	}
	assert.InDelta(t, 2*w.Integration+w.Trigger+w.Size, w.MaxScore(in), 1e-9)
	assert.Zero(t, w.MaxScore(nil))

	in.Operations = []string{"a", "b", "c", "d"}
	in.TriggerType = ""
	assert.InDelta(t, 2*w.Integration, w.MaxScore(in), 1e-9)
}

func TestWeights_SizeBonusDecays(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, w.Size, w.sizeBonus(w.SizeBaseline), 1e-9)
	assert.InDelta(t, w.Size/2, w.sizeBonus(w.SizeBaseline+int(w.SizeDecay)), 1e-9)
	assert.Greater(t, w.sizeBonus(4), w.sizeBonus(10))
	assert.Greater(t, w.sizeBonus(10), w.sizeBonus(40))
}
