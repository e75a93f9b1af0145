package conversation

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func testManager() *Manager {
	return NewManager(Config{
		BufferSize:        3,
		MinContextLength:  20,
		InactivityTimeout: 30 * time.Minute,
		SweepInterval:     time.Minute,
	}, testLogger())
}

func TestBufferIsFIFOBounded(t *testing.T) {
	m := testManager()

	for i := 1; i <= 5; i++ {
		m.AddMessage("ch1", "u1", fmt.Sprintf("message number %d", i))
	}

	messages := m.Messages("ch1")
	if len(messages) != 3 {
		t.Fatalf("buffer size = %d, want 3", len(messages))
	}

	// Oldest entries dropped first; contents verified, not just count.
	want := []string{"message number 3", "message number 4", "message number 5"}
	for i, msg := range messages {
		if msg.Text != want[i] {
			t.Errorf("messages[%d] = %q, want %q", i, msg.Text, want[i])
		}
	}
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "acronym",
			text: "deploy the API to AWS today",
			want: []string{"API", "AWS"},
		},
		{
			name: "camel and pascal case",
			text: "call getUserProfile then UserService responds",
			want: []string{"UserService", "getUserProfile"},
		},
		{
			name: "snake case",
			text: "check max_retry_count in the config",
			want: []string{"max_retry_count"},
		},
		{
			name: "backticked span",
			text: "run `kubectl get pods` on the cluster",
			want: []string{"kubectl get pods"},
		},
		{
			name: "plain prose yields nothing",
			text: "hello there, how are you doing today",
			want: []string{},
		},
		{
			name: "duplicates collapse",
			text: "API calls the API via the API gateway",
			want: []string{"API"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTerms(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractTerms(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTermsIsPure(t *testing.T) {
	text := "OrderService emits order_created events via the API using `nats pub`"
	first := ExtractTerms(text)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(ExtractTerms(text), first) {
			t.Fatal("extraction must be deterministic for the same input")
		}
	}
}

func TestGetContextHonorsMinimumLength(t *testing.T) {
	m := testManager()

	m.AddMessage("ch1", "u1", "hi")
	if ctx := m.GetContext("ch1"); ctx != "" {
		t.Errorf("short buffer should yield no context, got %q", ctx)
	}

	m.AddMessage("ch1", "u2", "we should discuss the deployment pipeline")
	ctx := m.GetContext("ch1")
	if !strings.Contains(ctx, "deployment pipeline") {
		t.Errorf("context missing message text: %q", ctx)
	}
}

func TestGetContextIncludesSortedTerms(t *testing.T) {
	m := testManager()
	m.AddMessage("ch1", "u1", "ZebraService talks to AlphaService over gRPC constantly here")

	ctx := m.GetContext("ch1")
	alpha := strings.Index(ctx, "AlphaService")
	zebra := strings.Index(ctx, "ZebraService")
	if alpha == -1 || zebra == -1 {
		t.Fatalf("terms missing from context: %q", ctx)
	}
	// The term list is sorted for determinism.
	if !strings.Contains(ctx[strings.Index(ctx, "Technical terms"):], "AlphaService") {
		t.Fatalf("term list missing: %q", ctx)
	}
}

func TestParticipantsTracked(t *testing.T) {
	m := testManager()
	m.AddMessage("ch1", "alice", "first")
	m.AddMessage("ch1", "bob", "second")
	m.AddMessage("ch1", "alice", "third")

	got := m.Participants("ch1")
	want := []string{"alice", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("participants = %v, want %v", got, want)
	}
}

func TestClearContext(t *testing.T) {
	m := testManager()
	m.AddMessage("ch1", "u1", "something to remember about the API")
	m.ClearContext("ch1")

	if got := m.GetContext("ch1"); got != "" {
		t.Errorf("context after clear = %q, want empty", got)
	}
	if got := m.Messages("ch1"); got != nil {
		t.Errorf("messages after clear = %v, want nil", got)
	}
}

func TestEvictInactive(t *testing.T) {
	m := NewManager(Config{
		BufferSize:        3,
		MinContextLength:  10,
		InactivityTimeout: 10 * time.Millisecond,
		SweepInterval:     time.Minute,
	}, testLogger())

	m.AddMessage("stale", "u1", "old message content here")
	time.Sleep(20 * time.Millisecond)
	m.AddMessage("fresh", "u2", "new message content here")

	if evicted := m.EvictInactive(); evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if got := m.Messages("stale"); got != nil {
		t.Error("stale channel should be gone")
	}
	if got := m.Messages("fresh"); len(got) != 1 {
		t.Error("fresh channel should survive eviction")
	}
}

func TestConcurrentWritersDifferentChannels(t *testing.T) {
	m := testManager()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			channel := fmt.Sprintf("ch%d", i%4)
			for j := 0; j < 50; j++ {
				m.AddMessage(channel, "user", fmt.Sprintf("msg %d from writer %d", j, i))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	for i := 0; i < 4; i++ {
		if got := len(m.Messages(fmt.Sprintf("ch%d", i))); got != 3 {
			t.Errorf("ch%d size = %d, want 3", i, got)
		}
	}
}
