package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/editwatch-tg-bot/app/session"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

const (
	testBotID   = 999
	testGroup   = -1001
	testChannel = -2002
	testAdmin   = 42
	testUser    = 77
)

const sentMessage = `{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}`

type apiCall struct {
	method string
	form   url.Values
}

// fakeBotAPI answers Bot API methods with canned results and records every call.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	results map[string]string
}

func newFakeBotAPI(t *testing.T) (*tgbotapi.BotAPI, *fakeBotAPI) {
	t.Helper()

	f := &fakeBotAPI{results: map[string]string{
		"getMe":           `{"id":999,"is_bot":true,"first_name":"Watch","username":"watch_bot"}`,
		"sendMessage":     sentMessage,
		"editMessageText": sentMessage,
	}}

	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("creating bot api: %v", err)
	}
	return bot, f
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := path.Base(r.URL.Path)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, form: r.PostForm})
	result, ok := f.results[method]
	f.mu.Unlock()

	if !ok {
		result = "true"
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func (f *fakeBotAPI) set(method, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = result
}

func (f *fakeBotAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (f *fakeBotAPI) sent(method string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var forms []url.Values
	for _, c := range f.calls {
		if c.method == method {
			forms = append(forms, c.form)
		}
	}
	return forms
}

// fakeStore records settings writes. Handlers are called synchronously in tests.
type fakeStore struct {
	admin  bool
	policy e.ChatPolicy

	upserted            []e.ChatMeta
	replacedAdmins      []e.ExemptUser
	deactivatedChats    []int64
	deactivatedChannels []int64
	deletionSet         []bool
	bound               []int64
}

func (s *fakeStore) UpsertChat(_ context.Context, chat e.ChatMeta) error {
	s.upserted = append(s.upserted, chat)
	return nil
}

func (s *fakeStore) DeactivateChat(_ context.Context, chatID int64) error {
	s.deactivatedChats = append(s.deactivatedChats, chatID)
	return nil
}

func (s *fakeStore) DeactivateChannelBindings(_ context.Context, channelID int64) (int64, error) {
	s.deactivatedChannels = append(s.deactivatedChannels, channelID)
	return 1, nil
}

func (s *fakeStore) ListAdminChats(_ context.Context, _ int64) ([]e.ChatSummary, error) {
	return nil, nil
}

func (s *fakeStore) IsChatAdmin(_ context.Context, _, _ int64) (bool, error) {
	return s.admin, nil
}

func (s *fakeStore) GetPolicy(_ context.Context, chatID int64) (e.ChatPolicy, error) {
	p := s.policy
	p.ChatID = chatID
	return p, nil
}

func (s *fakeStore) BindChannel(_ context.Context, _, channelID, _ int64) error {
	s.bound = append(s.bound, channelID)
	return nil
}

func (s *fakeStore) SetDeletionEnabled(_ context.Context, _ int64, enabled bool) error {
	s.deletionSet = append(s.deletionSet, enabled)
	s.policy.DeletionEnabled = enabled
	return nil
}

func (s *fakeStore) SetGraceMinutes(_ context.Context, _ int64, minutes int) (int, error) {
	s.policy.GraceMinutes = e.ClampGrace(minutes)
	return s.policy.GraceMinutes, nil
}

func (s *fakeStore) AddExemptUser(_ context.Context, _ e.ExemptUser) error {
	return nil
}

func (s *fakeStore) RemoveExemptUser(_ context.Context, _, _ int64) error {
	return nil
}

func (s *fakeStore) ReplaceAdmins(_ context.Context, _ int64, admins []e.ExemptUser) error {
	s.replacedAdmins = append(s.replacedAdmins, admins...)
	return nil
}

func (s *fakeStore) ListExemptUsers(_ context.Context, _ int64, _ e.ExemptRole) ([]e.ExemptUser, error) {
	return nil, nil
}

type fakeInspector struct {
	perms  e.BotPermissions
	admins []e.ExemptUser
}

func (i *fakeInspector) BotPermissions(_ context.Context, _ int64) (e.BotPermissions, error) {
	return i.perms, nil
}

func (i *fakeInspector) ChatAdministrators(_ context.Context, chatID int64) ([]e.ExemptUser, error) {
	admins := make([]e.ExemptUser, len(i.admins))
	for n, a := range i.admins {
		a.ChatID = chatID
		admins[n] = a
	}
	return admins, nil
}

type recordingEdits struct {
	mu     sync.Mutex
	events []e.EditEvent
}

func (r *recordingEdits) HandleEdit(_ context.Context, ev e.EditEvent) e.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return e.Result{Decision: e.Act()}
}

func (r *recordingEdits) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type testClient struct {
	*Client
	api       *fakeBotAPI
	store     *fakeStore
	inspector *fakeInspector
	edits     *recordingEdits
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()

	bot, api := newFakeBotAPI(t)
	tc := &testClient{
		api:       api,
		store:     &fakeStore{policy: e.DefaultPolicy(0)},
		inspector: &fakeInspector{},
		edits:     &recordingEdits{},
	}
	tc.Client = &Client{
		Log:        logger.Nop(),
		Bot:        bot,
		WorkersNum: 1,
		Edits:      tc.edits,
		Store:      tc.store,
		Platform:   tc.inspector,
		Sessions:   session.NewStore(10, time.Minute),
	}
	return tc
}
