package moderator

import (
	"context"
	"testing"
	"time"

	"nuclight.org/editwatch-tg-bot/app/metrics"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

type pipeline struct {
	h      *Handler
	store  *fakeStore
	ret    *recordingRetirer
	pub    *recordingPublisher
	alerts *recordingAlerts
}

func newPipeline(policy e.ChatPolicy) *pipeline {
	p := &pipeline{
		store:  &fakeStore{policies: map[int64]e.ChatPolicy{policy.ChatID: policy}, exempt: map[int64]bool{}},
		ret:    &recordingRetirer{result: true},
		pub:    &recordingPublisher{outcome: e.PublishOutcome{Tier: e.TierText, TextMode: e.TextRich, Success: true}},
		alerts: &recordingAlerts{},
	}
	p.h = &Handler{
		Log:       logger.Nop(),
		Store:     p.store,
		Retirer:   p.ret,
		Publisher: p.pub,
		Metrics:   metrics.New(),
		Alerts:    p.alerts,
	}
	return p
}

func TestHandleEditSkips(t *testing.T) {
	t.Run("bot author does not touch the store", func(t *testing.T) {
		p := newPipeline(boundPolicy(0))
		ev := editAfter(time.Hour)
		ev.IsAuthorBot = true

		res := p.h.HandleEdit(context.Background(), ev)

		if res.Decision.Reason != e.SkipBotAuthor {
			t.Fatalf("decision = %s, want bot-author", res.Decision)
		}
		if p.store.policyCalls != 0 {
			t.Errorf("policy reads = %d, want 0", p.store.policyCalls)
		}
		if p.ret.calls != 0 || p.pub.calls != 0 {
			t.Errorf("retire/publish = %d/%d, want 0/0", p.ret.calls, p.pub.calls)
		}
	})

	t.Run("exempt author", func(t *testing.T) {
		p := newPipeline(boundPolicy(0))
		p.store.exempt[testUser] = true

		res := p.h.HandleEdit(context.Background(), editAfter(time.Hour))

		if res.Decision.Reason != e.SkipExemptUser {
			t.Fatalf("decision = %s, want exempt-user", res.Decision)
		}
		if p.ret.calls != 0 || p.pub.calls != 0 {
			t.Errorf("retire/publish = %d/%d, want 0/0", p.ret.calls, p.pub.calls)
		}
	})

	t.Run("grace 5, edit after 3 minutes", func(t *testing.T) {
		p := newPipeline(boundPolicy(5))

		res := p.h.HandleEdit(context.Background(), editAfter(3*time.Minute))

		if res.Decision.Reason != e.SkipWithinGrace {
			t.Fatalf("decision = %s, want within-grace-window", res.Decision)
		}
		if res.Published != nil {
			t.Errorf("published = %s, want nil", res.Published)
		}
	})

	t.Run("deletion disabled", func(t *testing.T) {
		policy := boundPolicy(5)
		policy.DeletionEnabled = false
		p := newPipeline(policy)

		res := p.h.HandleEdit(context.Background(), editAfter(8*time.Minute))

		if res.Decision.Reason != e.SkipDeletionDisabled {
			t.Fatalf("decision = %s, want deletion-disabled", res.Decision)
		}
		if p.ret.calls != 0 || p.pub.calls != 0 {
			t.Errorf("retire/publish = %d/%d, want 0/0", p.ret.calls, p.pub.calls)
		}
	})

	t.Run("policy unavailable", func(t *testing.T) {
		p := newPipeline(boundPolicy(5))
		p.store.policyErr = errBoom

		res := p.h.HandleEdit(context.Background(), editAfter(8*time.Minute))

		if res.Decision.Reason != e.SkipPolicyUnavailable {
			t.Fatalf("decision = %s, want policy-unavailable", res.Decision)
		}
		if p.ret.calls != 0 || p.pub.calls != 0 {
			t.Errorf("retire/publish = %d/%d, want 0/0", p.ret.calls, p.pub.calls)
		}
	})

	t.Run("no channel bound", func(t *testing.T) {
		p := newPipeline(e.DefaultPolicy(testChat))

		res := p.h.HandleEdit(context.Background(), editAfter(time.Hour))

		if res.Decision.Reason != e.SkipNoChannel {
			t.Fatalf("decision = %s, want no-channel-configured", res.Decision)
		}
	})
}

func TestHandleEditActs(t *testing.T) {
	t.Run("grace 5, edit after 8 minutes", func(t *testing.T) {
		p := newPipeline(boundPolicy(5))

		res := p.h.HandleEdit(context.Background(), editAfter(8*time.Minute))

		if !res.Decision.Act {
			t.Fatalf("decision = %s, want act", res.Decision)
		}
		if !res.Retired || p.ret.calls != 1 {
			t.Errorf("retired = %v with %d calls", res.Retired, p.ret.calls)
		}
		if res.Published == nil || !res.Published.Success {
			t.Fatalf("published = %v", res.Published)
		}
		if len(p.pub.retired) != 1 || !p.pub.retired[0] {
			t.Errorf("publisher got retired = %v, want [true]", p.pub.retired)
		}
	})

	t.Run("exempt lookup failure treats author as regular", func(t *testing.T) {
		p := newPipeline(boundPolicy(0))
		p.store.exempt[testUser] = true
		p.store.exemptErr = errBoom

		res := p.h.HandleEdit(context.Background(), editAfter(time.Minute))

		if !res.Decision.Act {
			t.Fatalf("decision = %s, want act", res.Decision)
		}
	})

	t.Run("failed retirement still publishes", func(t *testing.T) {
		p := newPipeline(boundPolicy(0))
		p.ret.result = false

		res := p.h.HandleEdit(context.Background(), editAfter(time.Minute))

		if res.Retired {
			t.Error("retired = true, want false")
		}
		if p.pub.calls != 1 || p.pub.retired[0] {
			t.Errorf("publisher calls = %d retired = %v", p.pub.calls, p.pub.retired)
		}
	})

	t.Run("lost evidence is reported", func(t *testing.T) {
		p := newPipeline(boundPolicy(0))
		p.pub.outcome = e.PublishOutcome{}

		res := p.h.HandleEdit(context.Background(), editAfter(time.Minute))

		if !res.Published.Lost() {
			t.Fatalf("published = %s, want lost", res.Published)
		}
		if p.alerts.lost != 1 {
			t.Errorf("lost reports = %d, want 1", p.alerts.lost)
		}
	})
}

// A retired message can not be forwarded anymore, so media reaches the channel by file id.
func TestHandleEditPhotoReupload(t *testing.T) {
	plat := newFakePlatform().allow(testChat).allow(testChannel)

	store := &fakeStore{policies: map[int64]e.ChatPolicy{testChat: boundPolicy(0)}}
	h := &Handler{
		Log:       logger.Nop(),
		Store:     store,
		Retirer:   &Retirer{Log: logger.Nop(), Platform: plat},
		Publisher: &Publisher{Log: logger.Nop(), Platform: plat},
	}

	res := h.HandleEdit(context.Background(), photoEdit())

	if !res.Retired {
		t.Error("expected the message to be retired")
	}
	if plat.count("delete") != 1 {
		t.Errorf("delete calls = %d, want 1", plat.count("delete"))
	}
	if res.Published == nil || res.Published.Tier != e.TierReupload {
		t.Fatalf("published = %v, want reupload", res.Published)
	}
	if plat.count("forward") != 1 {
		t.Errorf("forward calls = %d, want 1", plat.count("forward"))
	}
	if plat.count("text") != 0 {
		t.Errorf("text calls = %d, want 0", plat.count("text"))
	}
}

func TestHandleEditForwardsWhenNotRetired(t *testing.T) {
	// the bot can post to the channel but can not delete in the chat
	plat := newFakePlatform().allow(testChannel)
	plat.perms[testChat] = e.BotPermissions{IsAdmin: true}

	store := &fakeStore{policies: map[int64]e.ChatPolicy{testChat: boundPolicy(0)}}
	h := &Handler{
		Log:       logger.Nop(),
		Store:     store,
		Retirer:   &Retirer{Log: logger.Nop(), Platform: plat},
		Publisher: &Publisher{Log: logger.Nop(), Platform: plat},
	}

	res := h.HandleEdit(context.Background(), photoEdit())

	if res.Retired {
		t.Error("expected the message to stay in the chat")
	}
	if plat.count("delete") != 0 {
		t.Errorf("delete calls = %d, want 0", plat.count("delete"))
	}
	if res.Published == nil || res.Published.Tier != e.TierForward {
		t.Fatalf("published = %v, want forward", res.Published)
	}
	if plat.count("media") != 0 {
		t.Errorf("media calls = %d, want 0", plat.count("media"))
	}
}
