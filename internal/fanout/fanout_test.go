package fanout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	var hub Hub[int]
	updates, cancel := hub.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}
	require.Equal(t, 5, <-updates)
	require.Empty(t, updates)
}

func TestBufferedSubscriberDropsOldest(t *testing.T) {
	hub := NewHub[int](3, nil)
	updates, cancel := hub.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}
	require.Equal(t, 3, <-updates)
	require.Equal(t, 4, <-updates)
	require.Equal(t, 5, <-updates)
}

func TestEachSubscriberGetsItsOwnCopy(t *testing.T) {
	hub := NewHub(1, func(v []int) []int { return append([]int(nil), v...) })
	first, cancelFirst := hub.Subscribe()
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.Publish([]int{1, 2})
	a, b := <-first, <-second
	a[0] = 9
	require.Equal(t, []int{1, 2}, b)
}

func TestCancelReleasesSubscriber(t *testing.T) {
	var hub Hub[string]
	_, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Len())
	cancel()
	cancel()
	require.Zero(t, hub.Len())
	hub.Publish("ignored")
}
