package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is a step of the private-chat settings conversation.
type State int

const (
	Idle State = iota
	AwaitingChannelForward
	AwaitingModeratorInput
	AwaitingCustomTime
	AwaitingModeratorForward
)

func (s State) String() string {
	switch s {
	case AwaitingChannelForward:
		return "awaiting_channel_forward"
	case AwaitingModeratorInput:
		return "awaiting_moderator_input"
	case AwaitingCustomTime:
		return "awaiting_custom_time"
	case AwaitingModeratorForward:
		return "awaiting_moderator_forward"
	default:
		return "idle"
	}
}

// Session is the conversation state of one operator. ChatID is the group being configured.
type Session struct {
	State  State
	ChatID int64
}

// Store keeps sessions per user. Sessions expire after the configured TTL and fall back to Idle.
type Store struct {
	sessions *expirable.LRU[int64, Session]
}

func NewStore(size int, ttl time.Duration) *Store {
	return &Store{
		sessions: expirable.NewLRU[int64, Session](size, nil, ttl),
	}
}

// Get returns the current session of a user, Idle if none.
func (s *Store) Get(userID int64) Session {
	sess, ok := s.sessions.Get(userID)
	if !ok {
		return Session{State: Idle}
	}
	return sess
}

// Await moves a user into a waiting state for chatID, replacing whatever flow was active.
func (s *Store) Await(userID int64, state State, chatID int64) {
	if state == Idle {
		s.Reset(userID)
		return
	}
	s.sessions.Add(userID, Session{State: state, ChatID: chatID})
}

// Take returns the session if it is in the expected state and resets it to Idle.
func (s *Store) Take(userID int64, expected State) (Session, bool) {
	sess := s.Get(userID)
	if sess.State != expected {
		return sess, false
	}
	s.Reset(userID)
	return sess, true
}

func (s *Store) Reset(userID int64) {
	s.sessions.Remove(userID)
}
