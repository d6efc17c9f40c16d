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
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// Index is an immutable snapshot of a template corpus. It is safe for
// unlimited concurrent readers.
type Index struct {
	corpus  Corpus
	records []*Record // sorted by ID
	byID    map[string]*Record
	text    *textIndex
	skipped int
	builtAt time.Time
}

type buildOptions struct {
	logger      *slog.Logger
	cache       *Cache
	concurrency int
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithLogger sets the logger used for skipped templates.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// WithCache reuses records from c when a template's hash is unchanged, and
// writes the finished index back to it.
func WithCache(c *Cache) BuildOption {
	return func(o *buildOptions) { o.cache = c }
}

// WithConcurrency bounds how many templates are read at once.
func WithConcurrency(n int) BuildOption {
	return func(o *buildOptions) { o.concurrency = n }
}

// Build scans corpus and returns a new Index. Templates that cannot be
// read or parsed are skipped with a warning. Build fails with a
// *errors.CorpusError when the corpus cannot be enumerated or yields no
// usable template.
func Build(ctx context.Context, corpus Corpus, opts ...BuildOption) (*Index, error) {
	o := buildOptions{
		logger:      slog.Default(),
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ids, err := corpus.List(ctx)
	if err != nil {
		return nil, &agenterrors.CorpusError{
			Kind:     agenterrors.CorpusUnreadable,
			Location: corpus.Location(),
			Cause:    err,
		}
	}

	var cached map[string]*Record
	if o.cache != nil {
		cached, err = o.cache.Load(ctx)
		if err != nil {
			o.logger.Warn("template cache unavailable, rebuilding from corpus", "error", err)
			cached = nil
		}
	}

	results := make([]*Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.concurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			raw, err := corpus.Read(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("skipping unreadable template", "template_id", id, "error", err)
				return nil
			}
			if rec, ok := cached[id]; ok && rec.Hash == hashBody(raw) {
				results[i] = rec
				return nil
			}
			rec, err := Inspect(id, raw)
			if err != nil {
				o.logger.Warn("skipping invalid template", "template_id", id, "error", err)
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &agenterrors.CorpusError{
			Kind:     agenterrors.CorpusUnreadable,
			Location: corpus.Location(),
			Cause:    err,
		}
	}

	ix := &Index{
		corpus:  corpus,
		byID:    make(map[string]*Record, len(results)),
		builtAt: time.Now(),
	}
	for _, rec := range results {
		if rec == nil {
			ix.skipped++
			continue
		}
		ix.records = append(ix.records, rec)
		ix.byID[rec.ID] = rec
	}
	if len(ix.records) == 0 {
		return nil, &agenterrors.CorpusError{
			Kind:     agenterrors.CorpusEmpty,
			Location: corpus.Location(),
		}
	}
	sort.Slice(ix.records, func(i, j int) bool { return ix.records[i].ID < ix.records[j].ID })
	ix.text = newTextIndex(ix.records)

	if o.cache != nil {
		if err := o.cache.Save(ctx, corpus.Location(), ix.records); err != nil {
			o.logger.Warn("failed to write template cache", "error", err)
		}
	}

	o.logger.Debug("template index built",
		"location", corpus.Location(),
		"templates", len(ix.records),
		"skipped", ix.skipped,
	)
	return ix, nil
}

// Len returns the number of indexed templates.
func (ix *Index) Len() int { return len(ix.records) }

// Skipped returns how many corpus entries were left out of the index.
func (ix *Index) Skipped() int { return ix.skipped }

// BuiltAt returns when the snapshot was built.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Location returns the corpus location the index was built from.
func (ix *Index) Location() string { return ix.corpus.Location() }

// Records returns the indexed records sorted by id. The slice is a copy;
// the records are shared and must not be modified.
func (ix *Index) Records() []*Record {
	return append([]*Record(nil), ix.records...)
}

// Get returns the record for id.
func (ix *Index) Get(id string) (*Record, bool) {
	rec, ok := ix.byID[id]
	return rec, ok
}

// Body returns the workflow object of template id as JSON, with any
// gallery wrapper removed and comments stripped.
func (ix *Index) Body(ctx context.Context, id string) (json.RawMessage, error) {
	if _, ok := ix.byID[id]; !ok {
		return nil, &agenterrors.NotFoundError{Resource: "template", ID: id}
	}
	raw, err := ix.corpus.Read(ctx, id)
	if err != nil {
		return nil, agenterrors.Wrapf(err, "read template %s", id)
	}
	wf, err := decodeWorkflow(raw)
	if err != nil {
		return nil, agenterrors.Wrapf(err, "template %s", id)
	}
	return json.Marshal(wf)
}
