package feedback

import (
	"fmt"
	"regexp"
	"strconv"
)

var threadLinkPattern = regexp.MustCompile(`^https://discord\.com/channels/(\d+)/(\d+)/(\d+)$`)

// ThreadLink is the canonical link to a thread's starter message. Threads
// without a known starter message link to the thread id itself.
func ThreadLink(communityID, threadID, starterMessageID int64) string {
	if starterMessageID == 0 {
		starterMessageID = threadID
	}
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d", communityID, threadID, starterMessageID)
}

// ParseThreadLink splits a thread link into its community, thread and message ids.
func ParseThreadLink(link string) (communityID, threadID, messageID int64, ok bool) {
	m := threadLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, 0, 0, false
	}
	ids := make([]int64, 3)
	for i := range ids {
		v, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, 0, 0, false
		}
		ids[i] = v
	}
	return ids[0], ids[1], ids[2], true
}

// target works out which thread an invocation submits into.
func (inv Invocation) target() (link string, threadID int64, err error) {
	if inv.Link == "" {
		if inv.ThreadID == 0 {
			return "", 0, validation(CodeBadLink, "this command only works inside a forum thread")
		}
		return ThreadLink(inv.CommunityID, inv.ThreadID, inv.StarterMessageID), inv.ThreadID, nil
	}
	communityID, threadID, _, ok := ParseThreadLink(inv.Link)
	if !ok {
		return "", 0, validation(CodeBadLink, "could not parse the thread link")
	}
	if communityID != inv.CommunityID {
		return "", 0, validation(CodeBadLink, "feedback can only target threads in this server")
	}
	if inv.ThreadID != 0 && threadID != inv.ThreadID {
		return "", 0, validation(CodeBadLink, "the link does not point at this thread")
	}
	return inv.Link, threadID, nil
}
