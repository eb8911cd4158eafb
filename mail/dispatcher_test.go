package mail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu        sync.Mutex
	sent      []Message
	sendErr   error
	release   chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (c *captureSender) Send(ctx context.Context, msg Message) (string, error) {
	if c.started != nil {
		c.startOnce.Do(func() { close(c.started) })
	}
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, msg)
	return "cap-1", nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestDispatcherDeliversAll(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, DispatcherConfig{BufferSize: 16}, nil)

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		id, err := d.Send(context.Background(), Message{To: "a@example.com", Template: "verify_email"})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids[id] = true
	}
	d.Close()

	assert.Equal(t, 10, sender.count())
	assert.Len(t, ids, 10, "every send gets a distinct message ID")
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sender := &captureSender{release: release, started: started}
	d := NewDispatcher(sender, DispatcherConfig{BufferSize: 2}, nil)

	// Park the worker inside the first delivery, then fill the buffer; every
	// send past that point is shed.
	_, err := d.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err)
	<-started

	for i := 0; i < 2; i++ {
		_, err := d.Send(context.Background(), Message{To: "a@example.com"})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := d.Send(context.Background(), Message{To: "a@example.com"})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), d.Dropped())

	close(release)
	d.Close()
	assert.Equal(t, 3, sender.count())
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, DispatcherConfig{BufferSize: 32}, nil)

	for i := 0; i < 20; i++ {
		_, _ = d.Send(context.Background(), Message{To: "a@example.com"})
	}
	d.Close()

	assert.Equal(t, 20, sender.count())

	// Sends after Close are counted as drops but still return an ID.
	id, err := d.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherCloseAccountsForEveryMessage(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, DispatcherConfig{BufferSize: 4}, nil)

	// Race sends against Close: every message must end up delivered or in
	// the drop count, whichever side of the shutdown it lands on.
	const total = 64
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Send(context.Background(), Message{To: "a@example.com"})
		}()
	}
	d.Close()
	wg.Wait()

	assert.Equal(t, total, sender.count()+int(d.Dropped()))
}

func TestDispatcherPacing(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, DispatcherConfig{
		BufferSize: 8,
		PerSecond:  50,
		Burst:      1,
	}, nil)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, _ = d.Send(context.Background(), Message{To: "a@example.com"})
	}
	d.Close()

	// 4 deliveries at 50/s with burst 1 cannot finish faster than ~60ms.
	assert.Equal(t, 4, sender.count())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDispatcherLogsFailuresAndContinues(t *testing.T) {
	sender := &captureSender{sendErr: errors.New("relay refused")}
	d := NewDispatcher(sender, DispatcherConfig{BufferSize: 4}, nil)

	_, err := d.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err, "delivery failures are not surfaced to the caller")
	d.Close()

	assert.Zero(t, sender.count())
	assert.Zero(t, d.Dropped(), "a failed delivery is not a drop")
}

func TestRenderBody(t *testing.T) {
	body := renderBody(Message{
		Template: "verify_email",
		Data: map[string]string{
			"verifyUrl":   "https://accounts.example.com/verify?token=abc",
			"expiryHours": "24",
		},
	})

	require.True(t, strings.HasPrefix(body, "template: verify_email\r\n"))
	// Keys render in sorted order so bodies are deterministic.
	assert.Less(t, strings.Index(body, "expiryHours"), strings.Index(body, "verifyUrl"))
	assert.Contains(t, body, "expiryHours: 24\r\n")
}
