package moderator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

func photoEdit() e.EditEvent {
	ev := editAfter(30 * time.Minute)
	ev.Text = "look at this"
	ev.Media = &e.Media{Kind: e.MediaPhoto, FileID: "AgAD-photo", Width: 1280, Height: 720, Variants: 3}
	return ev
}

func TestPublishCascade(t *testing.T) {
	markupErr := fmt.Errorf("sending message: %w", e.ErrMarkup)

	tests := []struct {
		name   string
		ev     e.EditEvent
		setup  func(p *fakePlatform)
		want   e.PublishOutcome
		calls  map[string]int
		formed []bool
	}{
		{
			name:  "media forwarded",
			ev:    photoEdit(),
			want:  e.PublishOutcome{Tier: e.TierForward, Success: true},
			calls: map[string]int{"forward": 1, "media": 0, "text": 0},
		},
		{
			name: "media re-uploaded after failed forward",
			ev:   photoEdit(),
			setup: func(p *fakePlatform) {
				p.forwardErr = errBoom
			},
			want:  e.PublishOutcome{Tier: e.TierReupload, Success: true},
			calls: map[string]int{"forward": 1, "media": 1, "text": 0},
		},
		{
			name: "media falls through to rich text",
			ev:   photoEdit(),
			setup: func(p *fakePlatform) {
				p.forwardErr = errBoom
				p.mediaErr = errBoom
			},
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextRich, Success: true},
			calls:  map[string]int{"forward": 1, "media": 1, "text": 1},
			formed: []bool{true},
		},
		{
			name:   "text only skips media tiers",
			ev:     editAfter(0),
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextRich, Success: true},
			calls:  map[string]int{"forward": 0, "media": 0, "text": 1},
			formed: []bool{true},
		},
		{
			name: "markup rejected retries plain",
			ev:   editAfter(0),
			setup: func(p *fakePlatform) {
				p.textErrs = []error{markupErr}
			},
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextPlain, Success: true},
			calls:  map[string]int{"text": 2},
			formed: []bool{true, false},
		},
		{
			name: "other rich failure goes to minimal",
			ev:   editAfter(0),
			setup: func(p *fakePlatform) {
				p.textErrs = []error{errBoom}
			},
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextMinimal, Success: true},
			calls:  map[string]int{"text": 2},
			formed: []bool{true, false},
		},
		{
			name: "plain failure goes to minimal",
			ev:   editAfter(0),
			setup: func(p *fakePlatform) {
				p.textErrs = []error{markupErr, errBoom}
			},
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextMinimal, Success: true},
			calls:  map[string]int{"text": 3},
			formed: []bool{true, false, false},
		},
		{
			name: "everything fails",
			ev:   photoEdit(),
			setup: func(p *fakePlatform) {
				p.forwardErr = errBoom
				p.mediaErr = errBoom
				p.textErrs = []error{markupErr, errBoom, errBoom}
			},
			want:   e.PublishOutcome{Tier: e.TierNone},
			calls:  map[string]int{"forward": 1, "media": 1, "text": 3},
			formed: []bool{true, false, false},
		},
		{
			name: "cannot post goes straight to minimal",
			ev:   photoEdit(),
			setup: func(p *fakePlatform) {
				p.perms[testChannel] = e.BotPermissions{IsAdmin: true}
			},
			want:   e.PublishOutcome{Tier: e.TierText, TextMode: e.TextMinimal, Success: true},
			calls:  map[string]int{"forward": 0, "media": 0, "text": 1},
			formed: []bool{false},
		},
		{
			name: "failed probe is not a refusal",
			ev:   photoEdit(),
			setup: func(p *fakePlatform) {
				p.permsErr = errBoom
			},
			want:  e.PublishOutcome{Tier: e.TierForward, Success: true},
			calls: map[string]int{"forward": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePlatform().allow(testChannel)
			if tt.setup != nil {
				tt.setup(p)
			}
			pub := &Publisher{Log: logger.Nop(), Platform: p}

			got := pub.Publish(context.Background(), tt.ev, testChannel, true)

			if got != tt.want {
				t.Fatalf("outcome = %+v, want %+v", got, tt.want)
			}
			for name, n := range tt.calls {
				if p.count(name) != n {
					t.Errorf("%s calls = %d, want %d", name, p.count(name), n)
				}
			}
			if len(p.texts) != len(tt.formed) {
				t.Fatalf("texts sent = %d, want %d", len(p.texts), len(tt.formed))
			}
			for i, f := range tt.formed {
				if p.texts[i].formatted != f {
					t.Errorf("text %d formatted = %v, want %v", i, p.texts[i].formatted, f)
				}
				if p.texts[i].chatID != testChannel {
					t.Errorf("text %d sent to %d, want %d", i, p.texts[i].chatID, testChannel)
				}
			}
		})
	}
}

func TestPublishLostOutcome(t *testing.T) {
	p := newFakePlatform().allow(testChannel)
	p.textErrs = []error{errBoom, errBoom}
	pub := &Publisher{Log: logger.Nop(), Platform: p}

	got := pub.Publish(context.Background(), editAfter(0), testChannel, false)

	if !got.Lost() {
		t.Fatalf("expected lost outcome, got %s", got)
	}
	if got.String() != "lost" {
		t.Errorf("String() = %q", got.String())
	}
}

func TestPublishCaptionIsBounded(t *testing.T) {
	p := newFakePlatform().allow(testChannel)
	p.forwardErr = errBoom
	pub := &Publisher{Log: logger.Nop(), Platform: p}

	ev := photoEdit()
	ev.Text = strings.Repeat("я", 3000)

	pub.Publish(context.Background(), ev, testChannel, true)

	if len(p.captions) != 1 {
		t.Fatalf("captions = %d, want 1", len(p.captions))
	}
	if n := utf8.RuneCountInString(p.captions[0]); n > captionLimit {
		t.Errorf("caption has %d runes, limit is %d", n, captionLimit)
	}
}

func TestPublishCaptionCountsUTF16(t *testing.T) {
	p := newFakePlatform().allow(testChannel)
	p.forwardErr = errBoom
	pub := &Publisher{Log: logger.Nop(), Platform: p}

	ev := photoEdit()
	// 700 runes, 1400 UTF-16 code units
	ev.Text = strings.Repeat("😀", 700)

	pub.Publish(context.Background(), ev, testChannel, true)

	if len(p.captions) != 1 {
		t.Fatalf("captions = %d, want 1", len(p.captions))
	}
	if n := len(utf16.Encode([]rune(p.captions[0]))); n > captionLimit {
		t.Errorf("caption has %d UTF-16 units, limit is %d", n, captionLimit)
	}
	if !strings.HasSuffix(p.captions[0], "...") {
		t.Errorf("caption is not marked as cut: %q", p.captions[0][len(p.captions[0])-10:])
	}
}
