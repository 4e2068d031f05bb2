package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

var t0 = time.Date(2024, time.August, 3, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func tooFast() cycle.Report {
	return cycle.Report{Outlier: true, Kind: cycle.OutlierTooFast, ImpliedRate: 0.63, PreviousRate: 0.2}
}

func TestMessage(t *testing.T) {
	kind, title, body, ok := Message(tooFast())
	require.True(t, ok)
	assert.Equal(t, KindWaterTooFast, kind)
	assert.Contains(t, title, "fast")
	assert.Contains(t, body, "0.63")

	kind, _, _, ok = Message(cycle.Report{Outlier: true, Kind: cycle.OutlierTooSlow})
	require.True(t, ok)
	assert.Equal(t, KindWaterTooSlow, kind)

	_, _, _, ok = Message(cycle.Report{})
	assert.False(t, ok)
}

func TestManager_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("ignores_valid_reports", func(t *testing.T) {
		sink := &recordingSink{}
		m := NewManager(time.Hour, nil, sink)
		require.NoError(t, m.Notify(ctx, "h-1", cycle.Report{}, t0))
		assert.Empty(t, sink.alerts)
	})

	t.Run("suppresses_repeats_within_interval", func(t *testing.T) {
		sink := &recordingSink{}
		m := NewManager(time.Hour, nil, sink)

		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0))
		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0.Add(30*time.Minute)))
		require.NoError(t, m.Notify(ctx, "h-2", tooFast(), t0.Add(30*time.Minute)))
		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0.Add(61*time.Minute)))

		require.Len(t, sink.alerts, 3)
		assert.Equal(t, "h-1", sink.alerts[0].HouseholdID)
		assert.Equal(t, "h-2", sink.alerts[1].HouseholdID)
		require.NotNil(t, sink.alerts[0].Report)
		assert.Equal(t, 0.63, sink.alerts[0].Report.ImpliedRate)
	})

	t.Run("zero_repeat_sends_once", func(t *testing.T) {
		sink := &recordingSink{}
		m := NewManager(0, nil, sink)
		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0))
		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0.Add(48*time.Hour)))
		assert.Len(t, sink.alerts, 1)

		m.ClearAlertState("h-1")
		require.NoError(t, m.Notify(ctx, "h-1", tooFast(), t0.Add(49*time.Hour)))
		assert.Len(t, sink.alerts, 2)
	})

	t.Run("sink_errors_are_joined", func(t *testing.T) {
		failing := &recordingSink{err: errors.New("boom")}
		ok := &recordingSink{}
		m := NewManager(time.Hour, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), failing, ok)

		err := m.Notify(ctx, "h-1", tooFast(), t0)
		assert.ErrorContains(t, err, "boom")
		assert.Len(t, ok.alerts, 1, "other sinks still receive the alert")
	})
}

func TestManager_NotifyLowStock(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	m := NewManager(time.Hour, nil, sink)

	plenty := inventory.NewItem("rice", "Rice", "kg", 5, 1)
	require.NoError(t, m.NotifyLowStock(ctx, "h-1", plenty, t0))
	assert.Empty(t, sink.alerts)

	low := inventory.NewItem("soap", "Dish soap", "bottle", 1, 1)
	require.NoError(t, m.NotifyLowStock(ctx, "h-1", low, t0))
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, KindLowStock, sink.alerts[0].Kind)
	assert.Equal(t, "soap", sink.alerts[0].ItemID)
	assert.Equal(t, "Running low: Dish soap", sink.alerts[0].Title)

	other := inventory.NewItem("tp", "Toilet paper", "roll", 0, 4)
	require.NoError(t, m.NotifyLowStock(ctx, "h-1", other, t0))
	assert.Len(t, sink.alerts, 2, "suppression is per item")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Send(context.Background(), Alert{HouseholdID: "h-1", Kind: KindLowStock, Title: "Running low: Rice"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Running low: Rice", line["msg"])
	assert.Equal(t, "h-1", line["household"])
}

func TestDesktopSink(t *testing.T) {
	var gotTitle, gotIcon string
	sink := NewDesktopSink("icon.png")
	sink.notify = func(title, _, icon string) error {
		gotTitle, gotIcon = title, icon
		return nil
	}

	require.NoError(t, sink.Send(context.Background(), Alert{Title: "hello"}))
	assert.Equal(t, "hello", gotTitle)
	assert.Equal(t, "icon.png", gotIcon)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink([]string{"localhost:9092"}, "nesthome.alerts")
	require.NoError(t, sink.writer.Close())
	sink.writer = w
	assert.Equal(t, "kafka:nesthome.alerts", sink.Name())

	m := NewManager(time.Hour, nil, sink)
	require.NoError(t, m.Notify(context.Background(), "h-1", tooFast(), t0))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("h-1"), w.msgs[0].Key)
	var a Alert
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &a))
	assert.Equal(t, KindWaterTooFast, a.Kind)
	assert.True(t, a.At.Equal(t0))

	require.NoError(t, m.Close())
	assert.True(t, w.closed)
}
