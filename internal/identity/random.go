package identity

import (
	"fmt"
	"math/rand/v2"
)

// RoomCodeAlphabet excludes I, O, 0 and 1 to avoid misreads.
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLength is the number of symbols in a room code.
const RoomCodeLength = 6

// GenerateRoomCode draws each symbol independently and uniformly from RoomCodeAlphabet.
// Codes are not unique; callers handle collisions.
func GenerateRoomCode() string {
	buf := make([]byte, RoomCodeLength)
	for i := range buf {
		buf[i] = RoomCodeAlphabet[rand.IntN(len(RoomCodeAlphabet))]
	}
	return string(buf)
}

// Shuffle returns a Fisher-Yates permutation of in without modifying it.
func Shuffle[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	for i := len(out) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// ScorePercent returns correct/total as a rounded percentage, 0 when total is 0.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*100 + total/2) / total
}

var difficultyLabels = map[int]string{
	1: "Easy",
	2: "Medium",
	3: "Hard",
	4: "Very Hard",
	5: "Expert",
}

func DifficultyLabel(level int) string {
	if label, ok := difficultyLabels[level]; ok {
		return label
	}
	return "Unknown"
}
