package bus

import (
	"context"
	"log"
	"sync"

	"trade-assistv1/internal/model"
)

// FanOut broadcasts quotes from a single input channel to N output channels.
// If an output channel is full, the quote is dropped for that consumer so a
// slow consumer never blocks the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Quote
	bufSize int

	// OnDrop is called when a quote is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut) Subscribe() <-chan model.Quote {
	ch := make(chan model.Quote, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Quote) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case quote, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- quote:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping quote %s", i, quote.Symbol)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) for one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns stats for every subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
