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

import "sync/atomic"

// Holder publishes the current Index. Readers get whichever snapshot was
// current when they called Load and keep using it for the whole request,
// even if a rebuild swaps in a newer one meanwhile.
type Holder struct {
	cur atomic.Pointer[Index]
}

// NewHolder returns a Holder serving ix.
func NewHolder(ix *Index) *Holder {
	h := &Holder{}
	h.cur.Store(ix)
	return h
}

// Load returns the current snapshot, or nil if none was ever stored.
func (h *Holder) Load() *Index {
	return h.cur.Load()
}

// Swap installs ix and returns the previous snapshot.
func (h *Holder) Swap(ix *Index) *Index {
	return h.cur.Swap(ix)
}
