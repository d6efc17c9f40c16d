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
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Embedded starter corpus, used when no template directory is configured.
//
//go:embed starter/*.json
var starterFS embed.FS

const templateExt = ".json"

// Corpus is read-only access to a set of template bodies.
type Corpus interface {
	// Location describes where the corpus lives, for logs and errors.
	Location() string

	// List returns every template id, sorted.
	List(ctx context.Context) ([]string, error)

	// Read returns the raw body of one template.
	Read(ctx context.Context, id string) ([]byte, error)
}

// FSCorpus serves templates from an fs.FS. Every *.json file below the
// root is a template; its id is the slash-separated path relative to the
// root without the extension.
type FSCorpus struct {
	fsys     fs.FS
	location string
}

// NewFSCorpus wraps fsys. location is only used for reporting.
func NewFSCorpus(fsys fs.FS, location string) *FSCorpus {
	return &FSCorpus{fsys: fsys, location: location}
}

// NewDirCorpus returns a corpus rooted at dir. The directory is not read
// until List is called.
func NewDirCorpus(dir string) *FSCorpus {
	return NewFSCorpus(os.DirFS(dir), dir)
}

// StarterLocation is the location reported for the embedded corpus.
const StarterLocation = "embedded:starter"

// Starter returns the embedded starter corpus.
func Starter() *FSCorpus {
	sub, err := fs.Sub(starterFS, "starter")
	if err != nil {
		// fs.Sub only fails on an invalid path literal.
		panic(fmt.Sprintf("templates: starter corpus: %v", err))
	}
	return NewFSCorpus(sub, StarterLocation)
}

// Location implements Corpus.
func (c *FSCorpus) Location() string { return c.location }

// List implements Corpus.
func (c *FSCorpus) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := fs.Stat(c.fsys, ".")
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", c.location)
	}

	matches, err := doublestar.Glob(c.fsys, "**/*"+templateExt, doublestar.WithFailOnIOErrors(), doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if hidden(m) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(m, templateExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Read implements Corpus.
func (c *FSCorpus) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("invalid template id %q", id)
	}
	return fs.ReadFile(c.fsys, id+templateExt)
}

func validID(id string) bool {
	if id == "" || strings.Contains(id, "\\") {
		return false
	}
	return fs.ValidPath(id + templateExt)
}

// hidden reports whether any element of p starts with a dot.
func hidden(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// idFromPath converts a slash path relative to the corpus root into an id,
// or returns "" when p is not a template file.
func idFromPath(p string) string {
	p = path.Clean(p)
	if path.Ext(p) != templateExt || hidden(p) {
		return ""
	}
	return strings.TrimSuffix(p, templateExt)
}
