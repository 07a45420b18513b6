package email

import (
	"strings"

	"github.com/emersion/go-imap"
)

// Keywords without a go-imap constant
const (
	junkFlag    = "$Junk"
	mdnSentFlag = "$MDNSent"
)

// flagKind is the closed set of flag names the manager understands. Any name
// outside the set is a custom tag label.
type flagKind int

const (
	flagCustom flagKind = iota
	flagSeen
	flagAnswered
	flagFlagged
	flagDeleted
	flagDraft
	flagRecent
	flagJunk
	flagMDNSent
)

var flagKinds = map[string]flagKind{
	"seen":     flagSeen,
	"answered": flagAnswered,
	"flagged":  flagFlagged,
	"deleted":  flagDeleted,
	"draft":    flagDraft,
	"recent":   flagRecent,
	"junk":     flagJunk,
	"mdnsent":  flagMDNSent,
}

func parseFlagKind(name string) flagKind {
	return flagKinds[strings.ToLower(name)]
}

// protocolFlags returns the wire flags of a standard kind in the order they
// are applied. The custom kind has none.
func (k flagKind) protocolFlags() []string {
	switch k {
	case flagSeen:
		return []string{imap.SeenFlag}
	case flagAnswered:
		return []string{imap.AnsweredFlag}
	case flagFlagged:
		return []string{imap.FlaggedFlag}
	case flagDeleted:
		return []string{imap.DeletedFlag}
	case flagDraft:
		return []string{imap.DraftFlag}
	case flagRecent:
		return []string{imap.RecentFlag}
	case flagJunk:
		return []string{junkFlag, "junk"}
	case flagMDNSent:
		return []string{mdnSentFlag}
	}
	return nil
}
