package dnssync

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicepipe/voicepipe/errors"
)

// fakeProvider is an in-memory Provider with per-operation fault injection.
type fakeProvider struct {
	mu      sync.Mutex
	records map[string]Record // by id
	nextID  int

	failCreateFor map[string]bool // record name -> fail
	failDelete    bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		records:       make(map[string]Record),
		failCreateFor: make(map[string]bool),
	}
}

func (p *fakeProvider) seed(name, content string, proxied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("rec-%d", p.nextID)
	p.records[id] = Record{ID: id, Name: name, Content: content, Proxied: proxied}
}

func (p *fakeProvider) byName(name string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *fakeProvider) ListARecords(context.Context) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r)
	}
	return out, nil
}

func (p *fakeProvider) CreateARecord(_ context.Context, name, content string, proxied bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreateFor[name] {
		return errors.Newf("injected create failure for %s", name)
	}
	p.nextID++
	id := fmt.Sprintf("rec-%d", p.nextID)
	p.records[id] = Record{ID: id, Name: name, Content: content, Proxied: proxied}
	return nil
}

func (p *fakeProvider) UpdateARecord(_ context.Context, id, name, content string, proxied bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[id]; !ok {
		return errors.Newf("no record %s", id)
	}
	p.records[id] = Record{ID: id, Name: name, Content: content, Proxied: proxied}
	return nil
}

func (p *fakeProvider) DeleteARecord(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDelete {
		return errors.New("injected delete failure")
	}
	delete(p.records, id)
	return nil
}
