package videocodec

import (
	"log"
	"sync"

	"github.com/trunov/mediapress/internal/transcoder"
)

// Provider owns the process-wide transcoder handle: created on the first
// video request, shared by reference, never torn down. Concurrent callers
// before the load completes share the same in-flight load, and a failed load
// is cached so later requests degrade immediately instead of retrying.
type Provider struct {
	once sync.Once
	load func() (transcoder.Transcoder, error)
	t    transcoder.Transcoder
}

func NewProvider(load func() (transcoder.Transcoder, error)) *Provider {
	return &Provider{load: load}
}

// Get returns the shared transcoder, or nil when loading failed.
func (p *Provider) Get() transcoder.Transcoder {
	p.once.Do(func() {
		t, err := p.load()
		if err != nil {
			log.Printf("[videocodec] transcoder unavailable: %v", err)
			return
		}
		p.t = t
	})
	return p.t
}
