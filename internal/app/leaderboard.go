package app

import (
	"sort"

	"quizcraft-live-service/internal/domain"
)

// BuildLeaderboard reduces raw score summaries into display entries:
// one entry per distinct participant keeping the highest score seen,
// sorted descending by score, rank assigned by 1-based position.
//
// Duplicate summaries for the same participant can coexist transiently
// while the store converges; keeping the maximum makes the projection
// insensitive to stale entries. Ties keep arrival order (stable sort),
// no secondary tie-break.
func BuildLeaderboard(summaries []domain.ScoreSummary) []domain.LeaderboardEntry {
	if len(summaries) == 0 {
		return []domain.LeaderboardEntry{}
	}

	best := make(map[string]domain.ScoreSummary, len(summaries))
	order := make([]string, 0, len(summaries))
	for _, s := range summaries {
		current, seen := best[s.ParticipantID]
		if !seen {
			order = append(order, s.ParticipantID)
			best[s.ParticipantID] = s
			continue
		}
		if s.TotalScore > current.TotalScore {
			best[s.ParticipantID] = s
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		s := best[id]
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID:  s.ParticipantID,
			DisplayName:    s.DisplayName,
			Score:          s.TotalScore,
			CorrectCount:   s.CorrectCount,
			TotalQuestions: s.TotalQuestions,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
