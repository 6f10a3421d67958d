package inbound

import "github.com/atbridge-dev/atbridge/internal/domain"

// notifReason is the closed set of notification reasons this bridge
// handles. Remote reason strings are parsed here, at the payload boundary;
// anything else is skipped.
type notifReason int

const (
	notifLike notifReason = iota
	notifRepost
	notifFollow
	notifMention
	notifReply
	notifQuote
)

func parseNotifReason(s string) (notifReason, bool) {
	switch s {
	case "like":
		return notifLike, true
	case "repost":
		return notifRepost, true
	case "follow":
		return notifFollow, true
	case "mention":
		return notifMention, true
	case "reply":
		return notifReply, true
	case "quote":
		return notifQuote, true
	default:
		return 0, false
	}
}

// postReason maps a notification reason onto the local post-reason tag used
// when the referenced post is fetched.
func (r notifReason) postReason() domain.PostReason {
	switch r {
	case notifMention:
		return domain.ReasonMention
	case notifReply:
		return domain.ReasonReply
	case notifQuote:
		return domain.ReasonQuote
	default:
		return domain.ReasonFetched
	}
}
