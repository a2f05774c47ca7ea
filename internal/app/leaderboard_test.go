package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizcraft-live-service/internal/domain"
)

func TestBuildLeaderboardRanksDescending(t *testing.T) {
	entries := BuildLeaderboard([]domain.ScoreSummary{
		{ParticipantID: "a", DisplayName: "Ann", TotalScore: 120},
		{ParticipantID: "b", DisplayName: "Bob", TotalScore: 480},
		{ParticipantID: "c", DisplayName: "Cam", TotalScore: 305},
	})

	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].ParticipantID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "c", entries[1].ParticipantID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, "a", entries[2].ParticipantID)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestBuildLeaderboardDeduplicatesKeepingMax(t *testing.T) {
	entries := BuildLeaderboard([]domain.ScoreSummary{
		{ParticipantID: "a", DisplayName: "Ann", TotalScore: 200},
		{ParticipantID: "a", DisplayName: "Ann", TotalScore: 450},
		{ParticipantID: "a", DisplayName: "Ann", TotalScore: 300},
		{ParticipantID: "b", DisplayName: "Bob", TotalScore: 100},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ParticipantID)
	assert.Equal(t, 450, entries[0].Score)
	assert.Equal(t, "b", entries[1].ParticipantID)
}

func TestBuildLeaderboardTiesKeepArrivalOrder(t *testing.T) {
	entries := BuildLeaderboard([]domain.ScoreSummary{
		{ParticipantID: "first", TotalScore: 300},
		{ParticipantID: "second", TotalScore: 300},
		{ParticipantID: "third", TotalScore: 300},
	})

	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].ParticipantID)
	assert.Equal(t, "second", entries[1].ParticipantID)
	assert.Equal(t, "third", entries[2].ParticipantID)
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
}

func TestBuildLeaderboardEmptyInput(t *testing.T) {
	entries := BuildLeaderboard(nil)
	require.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestBuildLeaderboardCarriesSummaryFields(t *testing.T) {
	entries := BuildLeaderboard([]domain.ScoreSummary{
		{ParticipantID: "a", DisplayName: "Ann", TotalScore: 225, CorrectCount: 1, TotalQuestions: 3},
	})
	require.Len(t, entries, 1)
	assert.Equal(t, "Ann", entries[0].DisplayName)
	assert.Equal(t, 1, entries[0].CorrectCount)
	assert.Equal(t, 3, entries[0].TotalQuestions)
}
