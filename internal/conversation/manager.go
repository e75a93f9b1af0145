package conversation

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Technical-term patterns. Extraction is pure: the same text always yields
// the same term set regardless of message order.
var (
	acronymPattern   = regexp.MustCompile(`\b[A-Z]{2,}[0-9]*\b`)
	camelCasePattern = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-zA-Z0-9]*)+\b`)
	pascalPattern    = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-zA-Z0-9]*)+\b`)
	snakePattern     = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)+\b`)
	backtickPattern  = regexp.MustCompile("`([^`]+)`")
)

// Message is one entry in a channel's rolling buffer.
type Message struct {
	UserID    string
	Text      string
	Timestamp time.Time
}

type channelBuffer struct {
	mu           sync.Mutex
	messages     []Message
	terms        map[string]bool
	participants map[string]bool
	lastActivity time.Time
}

// Config controls buffer sizing and eviction.
type Config struct {
	// BufferSize is the max messages retained per channel; oldest are
	// dropped first.
	BufferSize int
	// MinContextLength is the combined message length below which
	// GetContext returns no message context (too short to help).
	MinContextLength int
	// InactivityTimeout is how long a channel may sit idle before its
	// buffer is evicted.
	InactivityTimeout time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

// Manager maintains per-channel conversation buffers and extracted
// technical terms. Each channel has its own lock so concurrent writers to
// different channels never contend.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*channelBuffer
	config   Config
	logger   *logrus.Entry
}

// NewManager creates a conversation context manager.
func NewManager(config Config, logger *logrus.Entry) *Manager {
	return &Manager{
		channels: make(map[string]*channelBuffer),
		config:   config,
		logger:   logger,
	}
}

func (m *Manager) channel(channelID string) *channelBuffer {
	m.mu.RLock()
	ch, ok := m.channels[channelID]
	m.mu.RUnlock()
	if ok {
		return ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch
	}
	ch = &channelBuffer{
		terms:        make(map[string]bool),
		participants: make(map[string]bool),
	}
	m.channels[channelID] = ch
	return ch
}

// AddMessage appends a message to the channel's buffer, dropping the oldest
// entry beyond the configured size, and merges any technical terms found in
// the text into the channel's term set.
func (m *Manager) AddMessage(channelID, userID, text string) {
	ch := m.channel(channelID)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.messages = append(ch.messages, Message{
		UserID:    userID,
		Text:      text,
		Timestamp: time.Now(),
	})
	if len(ch.messages) > m.config.BufferSize {
		ch.messages = ch.messages[len(ch.messages)-m.config.BufferSize:]
	}

	for _, term := range ExtractTerms(text) {
		ch.terms[term] = true
	}
	if userID != "" {
		ch.participants[userID] = true
	}
	ch.lastActivity = time.Now()
}

// GetContext returns a prompt-ready context string for the channel: the
// recent messages (when their combined length clears the minimum threshold)
// followed by the technical-term list. Returns "" when there is nothing
// useful to inject.
func (m *Manager) GetContext(channelID string) string {
	m.mu.RLock()
	ch, ok := m.channels[channelID]
	m.mu.RUnlock()
	if !ok {
		return ""
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	var parts []string

	combined := 0
	for _, msg := range ch.messages {
		combined += len(msg.Text)
	}
	if combined >= m.config.MinContextLength {
		lines := make([]string, 0, len(ch.messages))
		for _, msg := range ch.messages {
			lines = append(lines, msg.Text)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(ch.terms) > 0 {
		terms := make([]string, 0, len(ch.terms))
		for term := range ch.terms {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		parts = append(parts, "Technical terms (keep untranslated): "+strings.Join(terms, ", "))
	}

	return strings.Join(parts, "\n\n")
}

// Messages returns a copy of the channel's current buffer, oldest first.
func (m *Manager) Messages(channelID string) []Message {
	m.mu.RLock()
	ch, ok := m.channels[channelID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]Message, len(ch.messages))
	copy(out, ch.messages)
	return out
}

// Participants returns the distinct user ids seen on the channel.
func (m *Manager) Participants(channelID string) []string {
	m.mu.RLock()
	ch, ok := m.channels[channelID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ids := make([]string, 0, len(ch.participants))
	for id := range ch.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearContext drops the channel's buffer entirely.
func (m *Manager) ClearContext(channelID string) {
	m.mu.Lock()
	delete(m.channels, channelID)
	m.mu.Unlock()
}

// EvictInactive removes channels idle beyond the inactivity timeout and
// returns how many were evicted.
func (m *Manager) EvictInactive() int {
	cutoff := time.Now().Add(-m.config.InactivityTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, ch := range m.channels {
		ch.mu.Lock()
		idle := ch.lastActivity.Before(cutoff)
		ch.mu.Unlock()
		if idle {
			delete(m.channels, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.WithField("evicted", evicted).Debug("Evicted inactive conversation buffers")
	}
	return evicted
}

// Run periodically sweeps inactive channels until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictInactive()
		}
	}
}

// ExtractTerms scans text for technical tokens: acronyms, camelCase and
// PascalCase identifiers, snake_case identifiers, and back-ticked spans.
// The result is sorted and de-duplicated.
func ExtractTerms(text string) []string {
	seen := make(map[string]bool)

	for _, match := range backtickPattern.FindAllStringSubmatch(text, -1) {
		if span := strings.TrimSpace(match[1]); span != "" {
			seen[span] = true
		}
	}
	// Strip backticked spans so their contents are not re-matched below.
	stripped := backtickPattern.ReplaceAllString(text, " ")

	for _, pattern := range []*regexp.Regexp{acronymPattern, camelCasePattern, pascalPattern, snakePattern} {
		for _, match := range pattern.FindAllString(stripped, -1) {
			seen[match] = true
		}
	}

	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
