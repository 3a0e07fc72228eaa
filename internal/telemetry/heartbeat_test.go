package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakePub struct {
	mu     sync.Mutex
	msgs   [][]byte
	topics []string
	err    error
	closed bool
}

func (f *fakePub) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.msgs = append(f.msgs, payload)
	return nil
}

func (f *fakePub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func TestBeatOnlyInStation(t *testing.T) {
	pub := &fakePub{}
	station := false
	hb := NewHeartbeat(pub, func() (Beat, bool) {
		return Beat{Device: "abc", Mode: "fallback_ap"}, station
	}, Topic("abc"), zerolog.Nop())

	require.False(t, hb.Beat())
	require.Empty(t, pub.msgs)

	station = true
	require.True(t, hb.Beat())
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "nosfw/abc/status", pub.topics[0])

	var got Beat
	require.NoError(t, json.Unmarshal(pub.msgs[0], &got))
	require.Equal(t, "abc", got.Device)
	require.Equal(t, 1, hb.Sent())
}

func TestBeatPublishError(t *testing.T) {
	pub := &fakePub{err: errors.New("broker gone")}
	hb := NewHeartbeat(pub, func() (Beat, bool) { return Beat{}, true }, "t", zerolog.Nop())
	require.False(t, hb.Beat())
	require.Equal(t, 0, hb.Sent())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	hb := NewHeartbeat(&fakePub{}, func() (Beat, bool) { return Beat{}, false }, "t", zerolog.Nop())
	require.Error(t, hb.Start("not a schedule"))
}

func TestStopClosesPublisher(t *testing.T) {
	pub := &fakePub{}
	hb := NewHeartbeat(pub, func() (Beat, bool) { return Beat{}, false }, "t", zerolog.Nop())
	require.NoError(t, hb.Start(""))
	hb.Stop()
	require.True(t, pub.closed)
}
