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
	"path/filepath"
	"slices"
	"testing"
	"testing/fstest"
)

func TestFSCorpus_List(t *testing.T) {
	fsys := fstest.MapFS{
		"b.json":             {Data: []byte(`{}`)},
		"a.json":             {Data: []byte(`{}`)},
		"nested/deep/c.json": {Data: []byte(`{}`)},
		"notes.txt":          {Data: []byte("ignored")},
		".hidden/d.json":     {Data: []byte(`{}`)},
		"nested/.e.json":     {Data: []byte(`{}`)},
	}
	c := NewFSCorpus(fsys, "mem")

	got, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"a", "b", "nested/deep/c"}
	if !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestFSCorpus_ListMissingDir(t *testing.T) {
	c := NewDirCorpus(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestFSCorpus_Read(t *testing.T) {
	fsys := fstest.MapFS{
		"team/alerts.json": {Data: []byte(`{"name":"x"}`)},
	}
	c := NewFSCorpus(fsys, "mem")
	ctx := context.Background()

	body, err := c.Read(ctx, "team/alerts")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(body) != `{"name":"x"}` {
		t.Errorf("Read() = %q", body)
	}

	for _, id := range []string{"", "../etc/passwd", "/abs", "team\\alerts", "missing"} {
		if _, err := c.Read(ctx, id); err == nil {
			t.Errorf("Read(%q) expected error", id)
		}
	}
}

func TestFSCorpus_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := Starter()
	if _, err := c.List(ctx); err == nil {
		t.Error("List() with canceled context should fail")
	}
	if _, err := c.Read(ctx, "webhook-to-slack"); err == nil {
		t.Error("Read() with canceled context should fail")
	}
}

func TestStarter(t *testing.T) {
	c := Starter()
	ids, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Contains(ids, "webhook-to-slack") {
		t.Errorf("starter corpus missing webhook-to-slack: %v", ids)
	}
	for _, id := range ids {
		body, err := c.Read(context.Background(), id)
		if err != nil {
			t.Fatalf("Read(%q) error = %v", id, err)
		}
		if _, err := Inspect(id, body); err != nil {
			t.Errorf("starter template %s does not inspect: %v", id, err)
		}
	}
}

func TestIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.json", "a"},
		{"x/y/z.json", "x/y/z"},
		{"./a.json", "a"},
		{"a.yaml", ""},
		{".git/config.json", ""},
		{"dir", ""},
	}
	for _, tt := range tests {
		if got := idFromPath(tt.path); got != tt.want {
			t.Errorf("idFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
