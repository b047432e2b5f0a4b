package clipboard

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	text atomic.Value
}

func newFakeProvider(initial string) *fakeProvider {
	p := &fakeProvider{}
	p.text.Store(initial)
	return p
}

func (p *fakeProvider) Read() (string, error) {
	return p.text.Load().(string), nil
}

func (p *fakeProvider) Set(s string) { p.text.Store(s) }

func TestSubscribeStartsPollerOnlyOnce(t *testing.T) {
	sub1 := Subscribe(func(string) {})
	defer sub1.Cancel()
	if !Running() {
		t.Fatal("poller should be running after first subscribe")
	}
	sub2 := Subscribe(func(string) {})
	defer sub2.Cancel()
	if !Running() {
		t.Fatal("poller should still be running")
	}
}

func TestCancelStopsPollerWhenLastSessionLeaves(t *testing.T) {
	sub := Subscribe(func(string) {})
	if !Running() {
		t.Fatal("expected poller running")
	}
	sub.Cancel()
	if Running() {
		t.Fatal("poller should stop once the last session cancels")
	}
}

func TestPollerNotifiesOnChange(t *testing.T) {
	provider := newFakeProvider("initial")
	SetProvider(provider)
	defer SetProvider(nil)

	received := make(chan string, 4)
	sub := Subscribe(func(s string) { received <- s })
	defer sub.Cancel()

	provider.Set("changed")

	select {
	case got := <-received:
		if got != "changed" {
			t.Errorf("got %q, want %q", got, "changed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clipboard change notification")
	}
}
