package entities

// Decision is what the classifier decided to do with an edit.
type Decision struct {
	Act    bool
	Reason SkipReason

	// Warning is set when the decision was made on incomplete input
	Warning string
}

type SkipReason string

const (
	// SkipNone means the edit is acted upon
	SkipNone SkipReason = ""

	// SkipBotAuthor indicates the edited message was written by a bot
	SkipBotAuthor SkipReason = "bot-author"

	// SkipExemptUser indicates the author is an owner, admin or moderator of the chat
	SkipExemptUser SkipReason = "exempt-user"

	// SkipNoChannel indicates no notification channel is bound to the chat
	SkipNoChannel SkipReason = "no-channel-configured"

	// SkipWithinGrace indicates the edit happened inside the grace window
	SkipWithinGrace SkipReason = "within-grace-window"

	// SkipDeletionDisabled indicates deletion is turned off for the chat
	SkipDeletionDisabled SkipReason = "deletion-disabled"

	// SkipPolicyUnavailable indicates chat settings could not be read
	SkipPolicyUnavailable SkipReason = "policy-unavailable"
)

func Act() Decision {
	return Decision{Act: true}
}

func Skip(reason SkipReason) Decision {
	return Decision{Reason: reason}
}

func (d Decision) String() string {
	if d.Act {
		return "act"
	}
	return string(d.Reason)
}
