// Package preview mints revocable references to client-visible copies of
// in-flight uploads, backed by scratch files. One reference is acquired per
// accepted file and released when the file leaves the batch or the batch is
// discarded.
package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Ref is a revocable reference to a byte blob.
type Ref struct {
	URL  string
	path string
}

type Provider struct {
	dir  string
	base string // URL prefix previews are served under
}

func NewProvider(dir, base string) (*Provider, error) {
	scratch, err := os.MkdirTemp(dir, "previews-")
	if err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &Provider{dir: scratch, base: base}, nil
}

// Dir is where minted previews live; the transport layer serves it.
func (p *Provider) Dir() string { return p.dir }

// Mint stores data under a fresh name and returns its reference.
func (p *Provider) Mint(data []byte) (*Ref, error) {
	name := uuid.NewString()
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("mint preview: %w", err)
	}
	return &Ref{URL: p.base + "/" + name, path: path}, nil
}

// Revoke frees the blob behind a reference. Revoking twice is a no-op.
func (p *Provider) Revoke(ref *Ref) {
	if ref == nil || ref.path == "" {
		return
	}
	_ = os.Remove(ref.path)
	ref.path = ""
}

// Batch scopes a set of references to one upload batch: acquire on accept,
// guaranteed release on removal or teardown.
type Batch struct {
	mu       sync.Mutex
	provider *Provider
	refs     map[string]*Ref
	closed   bool
}

func (p *Provider) NewBatch() *Batch {
	return &Batch{provider: p, refs: make(map[string]*Ref)}
}

// Add mints a preview for an accepted file and tracks it under name.
func (b *Batch) Add(name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("batch already discarded")
	}
	if old, ok := b.refs[name]; ok {
		b.provider.Revoke(old)
	}
	ref, err := b.provider.Mint(data)
	if err != nil {
		return "", err
	}
	b.refs[name] = ref
	return ref.URL, nil
}

// Remove revokes the preview minted for name, if any.
func (b *Batch) Remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ref, ok := b.refs[name]; ok {
		b.provider.Revoke(ref)
		delete(b.refs, name)
	}
}

// Close revokes every remaining reference. Safe to call more than once.
func (b *Batch) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, ref := range b.refs {
		b.provider.Revoke(ref)
		delete(b.refs, name)
	}
}

// Len reports the live references, for teardown accounting.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refs)
}
