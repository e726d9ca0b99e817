package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ev, err := New(SubjectStatusChanged, "TEN-001", 3, map[string]string{"status": "suspended"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, SubjectStatusChanged, ev.Subject)
	assert.Equal(t, int64(3), ev.Version)
	assert.JSONEq(t, `{"status":"suspended"}`, string(ev.Data))

	_, err = New(SubjectStatusChanged, "TEN-001", 1, make(chan int))
	assert.Error(t, err)

	empty, err := New(SubjectTenantSwitched, "TEN-001", 0, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Data)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestMulti(t *testing.T) {
	a, b := NewMemoryPublisher(), NewMemoryPublisher()
	boom := errors.New("boom")
	m := Multi{a, nil, failing{boom}, b}

	err := m.Publish(context.Background(), Event{Subject: SubjectTenantCreated})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{SubjectTenantCreated}, a.Subjects())
	assert.Equal(t, []string{SubjectTenantCreated}, b.Subjects())

	assert.NoError(t, Multi{a, Nop{}}.Publish(context.Background(), Event{Subject: SubjectUsageUpdated}))
	assert.Len(t, a.Events(), 2)
}

func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	p, err := ConnectNATS(url, "hms-test", nil)
	require.NoError(t, err)
	defer p.Close()

	got := make(chan Event, 1)
	sub, err := p.Subscribe(SubjectWildcard, func(ev Event) { got <- ev })
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	ev, _ := New(SubjectUsageUpdated, "TEN-001", 2, map[string]int{"staff": 5})
	require.NoError(t, p.Publish(context.Background(), ev))

	select {
	case received := <-got:
		assert.Equal(t, ev.ID, received.ID)
		var data map[string]int
		require.NoError(t, json.Unmarshal(received.Data, &data))
		assert.Equal(t, 5, data["staff"])
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.True(t, p.IsConnected())
}
