package bridge_test

import (
	"testing"
	"time"

	"github.com/autosender/autosender/internal/bridge"
	"github.com/autosender/autosender/internal/model"
	"github.com/stretchr/testify/require"
)

func update(gen uint64, current int) model.Notice {
	return model.Notice{
		Kind:       model.NoticeUpdate,
		Generation: gen,
		Event:      &model.Event{Type: model.EventProgress, Current: current},
	}
}

func stopped(gen uint64) model.Notice {
	code := 0
	return model.Notice{
		Kind:        model.NoticeStopped,
		Generation:  gen,
		Termination: &model.Termination{Code: &code},
	}
}

func recv(t *testing.T, sub *bridge.Subscription) model.Notice {
	t.Helper()
	select {
	case n, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notice received")
	}
	return model.Notice{}
}

func requireEmpty(t *testing.T, sub *bridge.Subscription) {
	t.Helper()
	select {
	case n := <-sub.C:
		t.Fatalf("unexpected notice %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridge(t *testing.T) {
	t.Parallel()

	t.Run("no subscribers", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		b.Advance(1)
		require.True(t, b.Publish(update(1, 1)))
		require.True(t, b.Publish(stopped(1)))
	})

	t.Run("current generation", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		sub := b.Subscribe()
		t.Cleanup(sub.Close)

		b.Advance(1)
		require.True(t, b.Publish(update(1, 1)))
		require.True(t, b.Publish(model.Notice{Kind: model.NoticeError, Generation: 1, Error: "Traceback"}))
		require.True(t, b.Publish(stopped(1)))

		require.Equal(t, 1, recv(t, sub).Event.Current)
		require.Equal(t, "Traceback", recv(t, sub).Error)
		require.Equal(t, model.NoticeStopped, recv(t, sub).Kind)
	})

	t.Run("superseded generation", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		sub := b.Subscribe()
		t.Cleanup(sub.Close)

		b.Advance(1)
		b.Advance(2)
		require.Equal(t, uint64(2), b.Current())
		require.False(t, b.Publish(update(1, 7)))
		require.False(t, b.Publish(model.Notice{Kind: model.NoticeError, Generation: 1, Error: "late"}))
		require.True(t, b.Publish(stopped(1)))
		require.True(t, b.Publish(update(2, 1)))

		n := recv(t, sub)
		require.Equal(t, model.NoticeStopped, n.Kind)
		require.Equal(t, uint64(1), n.Generation)
		n = recv(t, sub)
		require.Equal(t, model.NoticeUpdate, n.Kind)
		require.Equal(t, uint64(2), n.Generation)
		requireEmpty(t, sub)
	})

	t.Run("nothing after stopped", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		sub := b.Subscribe()
		t.Cleanup(sub.Close)

		b.Advance(3)
		require.True(t, b.Publish(stopped(3)))
		require.False(t, b.Publish(stopped(3)))
		require.False(t, b.Publish(update(3, 4)))

		require.Equal(t, model.NoticeStopped, recv(t, sub).Kind)
		requireEmpty(t, sub)
	})

	t.Run("advance backwards", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		b.Advance(5)
		b.Advance(4)
		require.Equal(t, uint64(5), b.Current())
	})
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("kinds", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		stops := b.Subscribe(model.NoticeStopped)
		t.Cleanup(stops.Close)
		all := b.Subscribe()
		t.Cleanup(all.Close)

		b.Advance(1)
		b.Publish(update(1, 1))
		b.Publish(stopped(1))

		require.Equal(t, model.NoticeStopped, recv(t, stops).Kind)
		requireEmpty(t, stops)
		require.Equal(t, model.NoticeUpdate, recv(t, all).Kind)
		require.Equal(t, model.NoticeStopped, recv(t, all).Kind)
	})

	t.Run("slow consumer", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		sub := b.Subscribe()
		t.Cleanup(sub.Close)

		b.Advance(1)
		const n = 5000
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range n {
				b.Publish(update(1, i))
			}
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("publish blocked")
		}

		for i := range n {
			require.Equal(t, i, recv(t, sub).Event.Current)
		}
	})

	t.Run("close drains", func(t *testing.T) {
		b := bridge.New()
		sub := b.Subscribe()
		b.Advance(1)
		b.Publish(update(1, 1))
		b.Publish(update(1, 2))
		b.Close()
		require.False(t, b.Publish(update(1, 3)))

		var got []int
		for n := range sub.C {
			got = append(got, n.Event.Current)
		}
		require.Equal(t, []int{1, 2}, got)
		sub.Close()
	})

	t.Run("after close", func(t *testing.T) {
		b := bridge.New()
		b.Close()
		sub := b.Subscribe()
		_, ok := <-sub.C
		require.False(t, ok)
		sub.Close()
	})

	t.Run("unsubscribe", func(t *testing.T) {
		b := bridge.New()
		t.Cleanup(b.Close)
		sub := b.Subscribe()
		sub.Close()
		sub.Close()
		b.Advance(1)
		require.True(t, b.Publish(update(1, 1)))
		_, ok := <-sub.C
		require.False(t, ok)
	})
}
