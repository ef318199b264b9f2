package entities

import "errors"

var (
	// ErrPermissionDenied is returned when the bot lacks rights for an action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMarkup is returned when the platform rejects formatted text
	ErrMarkup = errors.New("markup rejected")
)

// Tier is a delivery strategy of the evidence cascade.
type Tier int

const (
	TierNone Tier = iota
	TierForward
	TierReupload
	TierText
)

func (t Tier) String() string {
	switch t {
	case TierForward:
		return "forward"
	case TierReupload:
		return "reupload"
	case TierText:
		return "text"
	default:
		return "none"
	}
}

type TextMode string

const (
	TextRich    TextMode = "rich"
	TextPlain   TextMode = "plain"
	TextMinimal TextMode = "minimal"
)

// PublishOutcome reports which tier delivered the evidence.
type PublishOutcome struct {
	Tier     Tier
	TextMode TextMode // set for TierText
	Success  bool
}

// Lost reports that every tier failed and the evidence is gone.
func (o PublishOutcome) Lost() bool {
	return !o.Success
}

func (o PublishOutcome) String() string {
	if !o.Success {
		return "lost"
	}
	if o.Tier == TierText {
		return o.Tier.String() + "/" + string(o.TextMode)
	}
	return o.Tier.String()
}

// Result is the outcome of one edit pipeline run.
type Result struct {
	Decision  Decision
	Retired   bool
	Published *PublishOutcome // nil if publishing was not reached
}
