package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *recordingPublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewWriter(&bytes.Buffer{}, zerolog.DebugLevel)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "fluxdash.logs", Publisher: pub})

	lasp := l.Named("lasp")
	for i := 0; i < 3; i++ {
		lasp.Warn("lasp fetch failed", Int("attempt", i), Error(errors.New("timeout")))
	}
	lasp.Info("lasp fetch ok")
	lasp.Error("lasp parse failed")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "fluxdash.logs", pub.topic)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "lasp", entries[0].Component)
	assert.Equal(t, 3, entries[0].Count)
	assert.Equal(t, 2, entries[0].Fields["attempt"])
	assert.Equal(t, "timeout", entries[0].Fields["error"])
	assert.Contains(t, entries[0].Caller, "logger/collector_test.go:")
	assert.Equal(t, "error", entries[1].Level)
}

func TestCollectorThresholdFlush(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("warn", "a", "one", nil, "x.go:1")
	c.AddLog("warn", "a", "two", nil, "x.go:2")
	assert.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Pending())
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.InfoLevel).Named("collector")
	l.Debug("hidden")
	l.Info("collector refresh ok", Int("rows", 3), Duration("took", 1500*time.Millisecond), Strings("brokers", []string{"a", "b"}))

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "collector refresh ok", ev["message"])
	assert.Equal(t, "collector", ev["component"])
	assert.Equal(t, float64(3), ev["rows"])
	assert.Equal(t, float64(1500), ev["took"])
}

func TestNopAndWith(t *testing.T) {
	l := Nop().With(String("dataset", "penticton_radio_flux"))
	l.Error("ignored", Error(nil))
	l.RemoveCollector()
}
