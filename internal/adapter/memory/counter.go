package memory

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

const counterShards = 64

type shard struct {
	mu     sync.Mutex
	counts map[eventcount.Key]int64
}

// Counter implements counter.Aggregator with a fixed set of lock shards.
// A key always maps to the same shard, so increments on one key are
// serialised while unrelated keys rarely share a lock.
type Counter struct {
	shards [counterShards]shard
}

// NewCounter creates an empty sharded counter.
func NewCounter() *Counter {
	c := &Counter{}
	for i := range c.shards {
		c.shards[i].counts = make(map[eventcount.Key]int64)
	}
	return c
}

func (c *Counter) shardFor(k eventcount.Key) *shard {
	buf := make([]byte, 16, 16+len(k.Action.Kind)+1+len(k.Action.Name))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.Experiment))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.Participant))
	buf = append(buf, string(k.Action.Kind)...)
	buf = append(buf, 0)
	buf = append(buf, k.Action.Name...)
	return &c.shards[murmur3.Sum32(buf)%counterShards]
}

// Increment adds one to the tally of key, creating it at 1.
func (c *Counter) Increment(ctx context.Context, key eventcount.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.increment(key)
	return nil
}

func (c *Counter) increment(key eventcount.Key) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.counts[key]++
	sh.mu.Unlock()
}

// CountsFor returns the participant's tallies grouped by kind.
func (c *Counter) CountsFor(ctx context.Context, experiment, participant int64) (eventcount.Summary, error) {
	if err := ctx.Err(); err != nil {
		return eventcount.Summary{}, err
	}
	counts := c.collect(func(k eventcount.Key) bool {
		return k.Experiment == experiment && k.Participant == participant
	})
	return eventcount.Summarize(experiment, participant, counts), nil
}

// CountsForExperiment returns the experiment's tallies of the given kinds.
func (c *Counter) CountsForExperiment(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]eventcount.Count, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := kindSet(kinds)
	counts := c.collect(func(k eventcount.Key) bool {
		return k.Experiment == experiment && (want == nil || want[k.Action.Kind])
	})
	eventcount.Sort(counts)
	return counts, nil
}

func (c *Counter) collect(match func(eventcount.Key) bool) []eventcount.Count {
	var out []eventcount.Count
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for k, n := range sh.counts {
			if match(k) {
				out = append(out, eventcount.Count{Key: k, Count: n})
			}
		}
		sh.mu.Unlock()
	}
	return out
}
