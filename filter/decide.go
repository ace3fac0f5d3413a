package filter

import (
	"time"
)

const (
	// Grace is how long a known subject is kept from reconnecting after an action.
	Grace = 30 * time.Second

	DefaultKickText = "You have been kicked from the server."
	DefaultBanText  = "You are banned on this server."
)

type ActionKind int

const (
	None ActionKind = iota
	Kick
	BanIdentity
	BanAddress
)

func (k ActionKind) String() string {
	switch k {
	case Kick:
		return "kick"
	case BanIdentity:
		return "ban-identity"
	case BanAddress:
		return "ban-address"
	}
	return "none"
}

// Action is what the host has to do with a subject.
type Action struct {
	Kind    ActionKind
	Message string
	Grace   time.Duration
	// RecordIdentity asks the host to create a minimal record for an identity
	// it never saw, so the identity ban has something to attach to.
	RecordIdentity bool
}

// Decide turns a verdict into an action. message is the configured kick
// message, and seen tells whether the subject is already known to the host.
func Decide(verdict Verdict, mode Mode, message string, seen bool) Action {
	if !verdict.Matched {
		return Action{Kind: None}
	}
	result := Action{Message: message}
	switch mode {
	case ModeBanIdentity:
		result.Kind = BanIdentity
		result.RecordIdentity = !seen
	case ModeBanAddress:
		result.Kind = BanAddress
	default:
		result.Kind = Kick
	}
	if result.Message == "" {
		if result.Kind == Kick {
			result.Message = DefaultKickText
		} else {
			result.Message = DefaultBanText
		}
	}
	if seen {
		result.Grace = Grace
	}
	return result
}
