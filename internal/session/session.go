// Package session maps inbound identities to delivery targets and gateway session keys,
// and rolls sessions over after inactivity or on an explicit new-session command.
package session

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

// Identity is the routing-relevant part of an inbound event.
type Identity struct {
	RobotCode        string
	ConversationID   string
	ConversationType string
	SenderStaffID    string
	SenderID         string
}

// IsGroup reports whether the identity belongs to a group conversation.
func (id Identity) IsGroup() bool {
	return strings.TrimSpace(id.ConversationType) == dingtalk.ConversationGroup
}

func (id Identity) sender() string {
	if staff := strings.TrimSpace(id.SenderStaffID); staff != "" {
		return staff
	}
	return strings.TrimSpace(id.SenderID)
}

// ResolveTarget returns where proactive messages and cards for this identity go.
// Every stage of one message must use the same target.
func ResolveTarget(id Identity) dingtalk.Target {
	if id.IsGroup() {
		return dingtalk.Target{Group: true, ID: strings.TrimSpace(id.ConversationID)}
	}
	return dingtalk.Target{ID: id.sender()}
}

// BaseKey is the stable conversation key: dingtalk:<robot>:group:<cid> for groups and
// dingtalk:<robot>:dm:<sender> for direct chats.
func BaseKey(id Identity) string {
	robot := strings.TrimSpace(id.RobotCode)
	if id.IsGroup() {
		return strings.Join([]string{"dingtalk", robot, "group", strings.TrimSpace(id.ConversationID)}, ":")
	}
	return strings.Join([]string{"dingtalk", robot, "dm", id.sender()}, ":")
}

type entry struct {
	mu         sync.Mutex
	generation int
	lastSeen   time.Time
}

// Manager tracks the current generation of each conversation. Entries live in memory and
// expire lazily when touched.
type Manager struct {
	sessions sync.Map
	idle     time.Duration
	commands map[string]struct{}
	now      func() time.Time
}

// NewManager creates a manager. idle <= 0 disables idle rollover.
func NewManager(idle time.Duration, commands []string) *Manager {
	set := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	return &Manager{idle: idle, commands: set, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// IsNewSessionCommand reports whether text is one of the configured commands.
func (m *Manager) IsNewSessionCommand(text string) bool {
	_, ok := m.commands[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

func (m *Manager) load(base string) *entry {
	v, _ := m.sessions.LoadOrStore(base, &entry{generation: 1})
	return v.(*entry)
}

// Key returns the gateway session key for base and marks it active. A conversation idle
// for longer than the idle timeout starts a new generation.
func (m *Manager) Key(base string) string {
	e := m.load(base)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := m.now()
	if m.idle > 0 && !e.lastSeen.IsZero() && now.Sub(e.lastSeen) > m.idle {
		e.generation++
	}
	e.lastSeen = now
	return base + ":" + strconv.Itoa(e.generation)
}

// Reset starts a new generation for base and returns its key.
func (m *Manager) Reset(base string) string {
	e := m.load(base)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.lastSeen = m.now()
	return base + ":" + strconv.Itoa(e.generation)
}
