package services

import (
	"fmt"

	"github.com/gosimple/slug"
)

// Cache key layout. Action and board names pass through slug.Make so free-form
// labels ("Weekly Taps!") become stable key segments.

func PlayerStateKey(playerID string) string {
	return fmt.Sprintf("player:%s:state", playerID)
}

func PlayerLockKey(playerID string) string {
	return fmt.Sprintf("player:%s:lock", playerID)
}

func RateKey(playerID, action string) string {
	return fmt.Sprintf("rate:%s:%s", slug.Make(action), playerID)
}

func LeaderboardKey(board string) string {
	return fmt.Sprintf("leaderboard:%s", slug.Make(board))
}

func LeaderboardNamesKey() string {
	return "leaderboard:names"
}

func MatchLockKey(matchID string) string {
	return fmt.Sprintf("match:%s:lock", matchID)
}

func MatchQueueKey() string {
	return "match:queue"
}

func MatchQueueLockKey() string {
	return "match:queue:lock"
}
