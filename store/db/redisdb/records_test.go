package redisdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bkauto3/swarmsync/store"
)

func TestRecordKeys(t *testing.T) {
	require.Equal(t, "swarmsync:traj:abc", recordKey(nsTrajectory, "abc"))
	require.Equal(t, "swarmsync:traj:recent", recentKey(nsTrajectory))
	require.Equal(t, "swarmsync:traj:ids", idSetKey(nsTrajectory))
}

func TestFilterTrajectories(t *testing.T) {
	list := []*store.Trajectory{
		{ID: "a", AgentID: "builder", TaskDescription: "build the app", FinalOutcome: store.OutcomeSuccess, Reward: 0.9},
		{ID: "b", AgentID: "builder", TaskDescription: "build the app", FinalOutcome: store.OutcomeFailure, Reward: 0.2},
		{ID: "c", AgentID: "tester", TaskDescription: "write tests", FinalOutcome: store.OutcomeSuccess, Reward: 0.7},
	}

	require.Len(t, filterTrajectories(list, nil), 3)
	require.Len(t, filterTrajectories(list, &store.FindTrajectory{}), 3)

	agent := "builder"
	got := filterTrajectories(list, &store.FindTrajectory{AgentID: &agent})
	require.Len(t, got, 2)

	outcome := store.OutcomeSuccess
	task := "BUILD"
	got = filterTrajectories(list, &store.FindTrajectory{Outcome: &outcome, TaskText: &task})
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)

	min := 0.5
	got = filterTrajectories(list, &store.FindTrajectory{MinReward: &min})
	require.Len(t, got, 2)
}

func TestFilterStrategies(t *testing.T) {
	list := []*store.StrategyNugget{
		{ID: "a", Environment: "ci", Outcome: store.OutcomeSuccess, WinRate: 0.8},
		{ID: "b", Environment: "ci", Outcome: store.OutcomePartial, WinRate: 0.3},
		{ID: "c", Environment: "prod", Outcome: store.OutcomeSuccess, WinRate: 0.6},
	}

	env := "ci"
	min := 0.5
	got := filterStrategies(list, &store.FindStrategy{Environment: &env, MinWinRate: &min})
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}
