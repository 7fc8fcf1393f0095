package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

const markedIDOffset = int64(1_000_000_000_000)

// NormalizeChannelID converts a marked Bot API channel ID (-100 prefixed)
// into the bare MTProto channel ID.
func NormalizeChannelID(id int64) int64 {
	if id < 0 {
		id = -id
	}

	if id > markedIDOffset {
		id -= markedIDOffset
	}

	return id
}

// ParseChannelRef interprets a channel reference as a numeric ID. It
// accepts both bare MTProto IDs and marked Bot API IDs; usernames report
// false.
func ParseChannelRef(ref string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(ref, "@"), 10, 64)
	if err != nil {
		return 0, false
	}

	return NormalizeChannelID(id), true
}

// MessageLink builds a public t.me link for a message in a channel
// addressed by username or @username.
func MessageLink(channel string, messageID int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(channel, "@"), messageID)
}

// ChannelLink builds a public t.me link for a channel.
func ChannelLink(channel string) string {
	return "https://t.me/" + strings.TrimPrefix(channel, "@")
}
