package moderator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

var errBoom = errors.New("boom")

type sentText struct {
	chatID    int64
	text      string
	formatted bool
}

// fakePlatform records every call and fails according to its configuration.
type fakePlatform struct {
	mu sync.Mutex

	perms    map[int64]e.BotPermissions
	permsErr error

	deleted   map[string]bool
	deleteErr error

	forwardErr error
	mediaErr   error

	// textErrs is consumed one error per SendText call, missing entries mean success
	textErrs []error

	calls    map[string]int
	texts    []sentText
	captions []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		perms:   map[int64]e.BotPermissions{},
		deleted: map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *fakePlatform) allow(chatID int64) *fakePlatform {
	f.perms[chatID] = e.BotPermissions{IsAdmin: true, CanDeleteMessages: true, CanPost: true}
	return f
}

func (f *fakePlatform) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakePlatform) BotPermissions(_ context.Context, chatID int64) (e.BotPermissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["perms"]++
	if f.permsErr != nil {
		return e.BotPermissions{}, f.permsErr
	}
	return f.perms[chatID], nil
}

func (f *fakePlatform) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	key := fmt.Sprintf("%d:%d", chatID, messageID)
	if f.deleted[key] {
		return errors.New("Bad Request: message to delete not found")
	}
	f.deleted[key] = true
	return nil
}

func (f *fakePlatform) ForwardMessage(_ context.Context, fromChatID int64, messageID int, _ int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["forward"]++
	if f.forwardErr != nil {
		return 0, f.forwardErr
	}
	if f.deleted[fmt.Sprintf("%d:%d", fromChatID, messageID)] {
		return 0, errors.New("Bad Request: message to forward not found")
	}
	return 777, nil
}

func (f *fakePlatform) SendMedia(_ context.Context, _ e.Media, _ int64, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["media"]++
	f.captions = append(f.captions, caption)
	return f.mediaErr
}

func (f *fakePlatform) SendText(_ context.Context, chatID int64, text string, formatted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["text"]++
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, formatted: formatted})
	if len(f.textErrs) == 0 {
		return nil
	}
	err := f.textErrs[0]
	f.textErrs = f.textErrs[1:]
	return err
}

type fakeStore struct {
	policies  map[int64]e.ChatPolicy
	exempt    map[int64]bool
	policyErr error
	exemptErr error

	policyCalls int
}

func (s *fakeStore) GetPolicy(_ context.Context, chatID int64) (e.ChatPolicy, error) {
	s.policyCalls++
	if s.policyErr != nil {
		return e.ChatPolicy{}, s.policyErr
	}
	p, ok := s.policies[chatID]
	if !ok {
		return e.DefaultPolicy(chatID), nil
	}
	return p, nil
}

func (s *fakeStore) IsExemptUser(_ context.Context, _ int64, userID int64) (bool, error) {
	if s.exemptErr != nil {
		return false, s.exemptErr
	}
	return s.exempt[userID], nil
}

type recordingRetirer struct {
	result bool
	calls  int
}

func (r *recordingRetirer) Retire(context.Context, int64, int) bool {
	r.calls++
	return r.result
}

type recordingPublisher struct {
	outcome e.PublishOutcome
	calls   int
	retired []bool
}

func (p *recordingPublisher) Publish(_ context.Context, _ e.EditEvent, _ int64, retired bool) e.PublishOutcome {
	p.calls++
	p.retired = append(p.retired, retired)
	return p.outcome
}

type recordingAlerts struct {
	lost int
}

func (a *recordingAlerts) ReportEvidenceLost(context.Context, e.EditEvent, int64) {
	a.lost++
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const (
	testChat    int64 = -1001
	testChannel int64 = -2002
	testUser    int64 = 42
)

func editAfter(d time.Duration) e.EditEvent {
	return e.EditEvent{
		ChatID:    testChat,
		MessageID: 10,
		AuthorID:  testUser,
		SentAt:    baseTime,
		EditedAt:  baseTime.Add(d),
		Text:      "hello",
		Chat:      e.ChatMeta{ID: testChat, Title: "Group", Type: "supergroup"},
		Author:    e.AuthorMeta{ID: testUser, FirstName: "Ann", Username: "ann"},
	}
}

func boundPolicy(grace int) e.ChatPolicy {
	return e.ChatPolicy{ChatID: testChat, ChannelID: testChannel, DeletionEnabled: true, GraceMinutes: grace, Active: true}
}
