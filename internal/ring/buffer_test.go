package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEvent struct{ id uint64 }

func (f fakeEvent) GetID() uint64 { return f.id }

func TestBuffer_OverwritesOldestWhenFull(t *testing.T) {
	b := New[fakeEvent](2)
	b.Push(fakeEvent{1})
	b.Push(fakeEvent{2})
	b.Push(fakeEvent{3})

	require.Equal(t, 2, b.Size())
	all := b.ToArray()
	require.Equal(t, []fakeEvent{{2}, {3}}, all)
}

func TestBuffer_Since(t *testing.T) {
	b := New[fakeEvent](10)
	b.Push(fakeEvent{1})
	b.Push(fakeEvent{2})
	b.Push(fakeEvent{3})

	require.Equal(t, []fakeEvent{{2}, {3}}, b.Since(1))
	require.Empty(t, b.Since(3))
	require.Equal(t, []fakeEvent{{1}, {2}, {3}}, b.Since(0))
}

func TestBuffer_SinceAfterPushContainsNewEvent(t *testing.T) {
	b := New[fakeEvent](5)
	b.Push(fakeEvent{1})
	e := fakeEvent{2}
	b.Push(e)

	got := b.Since(e.GetID() - 1)
	require.Len(t, got, 1)
	require.Equal(t, e, got[0])
}

func TestBuffer_CapacityTwoExample(t *testing.T) {
	// Concrete scenario from the spec: push A,B,C into capacity 2.
	b := New[fakeEvent](2)
	a, bb, c := fakeEvent{10}, fakeEvent{11}, fakeEvent{12}
	b.Push(a)
	b.Push(bb)
	b.Push(c)

	require.Equal(t, []fakeEvent{bb, c}, b.ToArray())
	require.Equal(t, []fakeEvent{c}, b.Since(bb.GetID()))
}

func TestBuffer_DefaultCapacityFallback(t *testing.T) {
	b := New[fakeEvent](0)
	require.Equal(t, DefaultBufferSize, b.capacity)
}
