// Package notify fans out per-project notices to stream subscribers.
package notify

import (
	"context"
	"sync"
	"time"
)

const subscriberBuffer = 16

// Notice is a status message about one project.
type Notice struct {
	ProjectID string    `json:"project_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Broker interface {
	Publish(ctx context.Context, notice Notice) error
	// Subscribe returns a channel of notices for projectID and a function that
	// ends the subscription and closes the channel.
	Subscribe(ctx context.Context, projectID string) (<-chan Notice, func(), error)
}

// MemoryBroker delivers notices within a single process. Slow subscribers
// drop notices rather than block publishers.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Notice]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Notice]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, notice Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[notice.ProjectID] {
		select {
		case ch <- notice:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, projectID string) (<-chan Notice, func(), error) {
	ch := make(chan Notice, subscriberBuffer)

	b.mu.Lock()
	if b.subs[projectID] == nil {
		b.subs[projectID] = make(map[chan Notice]struct{})
	}
	b.subs[projectID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[projectID], ch)
			if len(b.subs[projectID]) == 0 {
				delete(b.subs, projectID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *MemoryBroker) subscriberCount(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[projectID])
}
