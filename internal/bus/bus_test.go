package bus

import (
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"data.quotes.BTCUSDT", "data.quotes.BTCUSDT", true},
		{"data.quotes.BTCUSDT", "data.quotes.ETHUSDT", false},
		{"data.quotes.*", "data.quotes.BTCUSDT", true},
		{"data.quotes.*", "data.trades.BTCUSDT", false},
		{"data.*.BTCUSDT", "data.quotes.BTCUSDT", true},
		{"data.*.BTCUSDT", "data.trades.BTCUSDT", true},
		{"data.*.BTCUSDT", "data.quotes.ETHUSDT", false},
		// Interior wildcard consumes exactly one segment.
		{"data.*.BTCUSDT", "data.a.b.BTCUSDT", false},
		// Trailing wildcard consumes the whole remaining suffix.
		{"data.*", "data.quotes.BTCUSDT", true},
		{"data.*", "data.quotes", true},
		{"data.*", "data", false},
		{"*", "data", true},
		{"*", "data.quotes", true},
		{"events.position.*", "events.position.P-1", true},
		{"events.position.*", "events.account.SIM-001", false},
	}
	for _, tc := range tests {
		t.Run(tc.pattern+"~"+tc.topic, func(t *testing.T) {
			if got := MatchTopic(tc.pattern, tc.topic); got != tc.want {
				t.Fatalf("MatchTopic(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
			}
		})
	}
}

func TestBusPublishDispatchesToMatching(t *testing.T) {
	b := New(nil)

	var quotes, all []string
	if _, err := b.Subscribe("data.quotes.*", func(topic string, msg any) {
		quotes = append(quotes, msg.(string))
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("data.*", func(topic string, msg any) {
		all = append(all, msg.(string))
	}); err != nil {
		t.Fatal(err)
	}

	b.Publish("data.quotes.BTCUSDT", "q1")
	b.Publish("data.trades.BTCUSDT", "t1")

	if len(quotes) != 1 || quotes[0] != "q1" {
		t.Fatalf("quotes = %v, want [q1]", quotes)
	}
	if len(all) != 2 {
		t.Fatalf("all = %v, want both messages", all)
	}
}

func TestBusPublishFollowsRegistrationOrder(t *testing.T) {
	b := New(nil)

	// Patterns chosen so several distinct map entries match one topic;
	// delivery must still follow subscribe order.
	var order []string
	record := func(name string) Handler {
		return func(topic string, msg any) { order = append(order, name) }
	}
	patterns := []struct{ pattern, name string }{
		{"data.quotes.BTCUSDT", "exact"},
		{"data.quotes.*", "quotes"},
		{"data.*", "data"},
		{"*", "root"},
		{"data.*.BTCUSDT", "segment"},
	}
	for _, p := range patterns {
		if _, err := b.Subscribe(p.pattern, record(p.name)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 20; i++ {
		order = order[:0]
		b.Publish("data.quotes.BTCUSDT", nil)
		want := []string{"exact", "quotes", "data", "root", "segment"}
		if len(order) != len(want) {
			t.Fatalf("dispatched to %v, want %v", order, want)
		}
		for j := range want {
			if order[j] != want[j] {
				t.Fatalf("dispatch order = %v, want %v", order, want)
			}
		}
	}
}

func TestBusPublishWithoutSubscribersIsFireAndForget(t *testing.T) {
	b := New(nil)
	// Must not panic or error.
	b.Publish("data.quotes.BTCUSDT", "q1")
	if n := b.SubscriberCount("data.quotes.BTCUSDT"); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := New(nil)

	calls := 0
	sub, err := b.Subscribe("events.position.*", func(topic string, msg any) { calls++ })
	if err != nil {
		t.Fatal(err)
	}

	b.Publish("events.position.P-1", nil)
	b.Unsubscribe(sub)
	b.Publish("events.position.P-1", nil)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 after unsubscribe", calls)
	}
	// Unsubscribing twice is harmless.
	b.Unsubscribe(sub)
}

func TestBusRejectsInvalidPatterns(t *testing.T) {
	b := New(nil)

	if _, err := b.Subscribe("", func(string, any) {}); err == nil {
		t.Fatal("empty pattern should be rejected")
	}
	if _, err := b.Subscribe("data.[qt]*", func(string, any) {}); err == nil {
		t.Fatal("character classes should be rejected")
	}
	if _, err := b.Subscribe("data.*", nil); err == nil {
		t.Fatal("nil handler should be rejected")
	}
}
