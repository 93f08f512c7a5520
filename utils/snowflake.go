package utils

import (
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordEpoch is the first millisecond of 2015 in Unix milliseconds.
const DiscordEpoch int64 = 1420070400000

const timestampShift = 22

// IDFromTime synthesizes the smallest snowflake created at t.
// Times before the Discord epoch clamp to "0".
func IDFromTime(t time.Time) string {
	ms := t.UnixMilli() - DiscordEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<timestampShift, 10)
}

// TimeFromID returns the creation time embedded in a snowflake.
func TimeFromID(id string) (time.Time, error) {
	return discordgo.SnowflakeTimestamp(id)
}

// NowID returns a snowflake for the current instant.
func NowID() string {
	return IDFromTime(time.Now())
}

// ParseID converts a snowflake to int64.
func ParseID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}

// CompareIDs orders two snowflakes numerically. An empty ID sorts before every other ID.
func CompareIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MinID returns the smaller of two snowflakes, ignoring empty ones.
func MinID(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || CompareIDs(a, b) <= 0 {
		return a
	}
	return b
}
