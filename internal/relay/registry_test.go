package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	connState
	id       string
	mu       sync.Mutex
	received [][]byte
	closed   int
	sendErr  error
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func (m *mockConn) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestRegistryAddRemove(t *testing.T) {
	reg := NewRegistry()
	a := newMockConn("a")

	require.NoError(t, reg.Add(a))
	assert.True(t, reg.Has("a"))
	assert.Equal(t, 1, reg.Len())

	assert.ErrorIs(t, reg.Add(newMockConn("a")), ErrDuplicateConn)

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.False(t, reg.Has("a"))
	assert.Zero(t, reg.Len())
}

func TestRegistrySizeMatchesConnects(t *testing.T) {
	for _, n := range []int{0, 1, 7, 64} {
		t.Run(fmt.Sprintf("%d connects", n), func(t *testing.T) {
			reg := NewRegistry()
			for i := 0; i < n; i++ {
				require.NoError(t, reg.Add(newMockConn(fmt.Sprintf("c%d", i))))
			}
			assert.Equal(t, n, reg.Len())
			assert.Len(t, reg.Snapshot(), n)
		})
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(newMockConn("a")))

	snap := reg.Snapshot()
	reg.Remove("a")

	assert.Len(t, snap, 1)
	assert.Zero(t, reg.Len())
}

func TestRegistryConcurrentMutation(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("c%d", i)
		go func() {
			defer wg.Done()
			_ = reg.Add(newMockConn(id))
		}()
		go func() {
			defer wg.Done()
			_ = reg.Snapshot()
		}()
		go func() {
			defer wg.Done()
			reg.Remove(id)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, reg.Len(), 50)
}

func TestConnStateTransitions(t *testing.T) {
	var s connState
	assert.Equal(t, StateConnecting, s.State())

	assert.True(t, s.markOpen())
	assert.False(t, s.markOpen())
	assert.Equal(t, StateOpen, s.State())

	assert.True(t, s.markClosed())
	assert.False(t, s.markClosed())
	assert.False(t, s.markOpen(), "closed is terminal")
	assert.Equal(t, "closed", s.State().String())
}
