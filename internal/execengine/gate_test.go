package execengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRunner struct {
	results map[string]AcceptanceResult
	err     map[string]error
}

func (f *fakeRunner) Run(_ context.Context, test AcceptanceTest) (AcceptanceResult, error) {
	if err, ok := f.err[test.ID]; ok {
		return AcceptanceResult{}, err
	}
	return f.results[test.ID], nil
}

func TestCheckGate_VacuousPassOnEmptyTestList(t *testing.T) {
	gate := NewAcceptanceGate(&fakeRunner{})
	verdict := gate.CheckGate(context.Background(), nil, DefaultGateThresholds())
	assert.True(t, verdict.GatePassed)
	assert.True(t, verdict.CanRelease)
	assert.Equal(t, 1.0, verdict.MustRate)
	assert.Equal(t, 1.0, verdict.ShouldRate)
}

func TestCheckGate_PassesWhenAllMustPassAndShouldMeetsThreshold(t *testing.T) {
	tests := []AcceptanceTest{
		{ID: "m1", Priority: PriorityMust},
		{ID: "m2", Priority: PriorityMust},
		{ID: "s1", Priority: PriorityShould},
		{ID: "s2", Priority: PriorityShould},
	}
	runner := &fakeRunner{results: map[string]AcceptanceResult{
		"m1": {Status: AcceptancePass},
		"m2": {Status: AcceptancePass},
		"s1": {Status: AcceptancePass},
		"s2": {Status: AcceptanceFail},
	}}
	gate := NewAcceptanceGate(runner)
	verdict := gate.CheckGate(context.Background(), tests, GateThresholds{Must: 1.0, Should: 0.5})
	assert.True(t, verdict.GatePassed)
	assert.True(t, verdict.CanRelease)
	assert.Equal(t, 1.0, verdict.MustRate)
	assert.Equal(t, 0.5, verdict.ShouldRate)
}

func TestCheckGate_BlocksOnMustFailureAndForbidsRelease(t *testing.T) {
	tests := []AcceptanceTest{
		{ID: "m1", Priority: PriorityMust},
	}
	runner := &fakeRunner{results: map[string]AcceptanceResult{
		"m1": {Status: AcceptanceFail},
	}}
	gate := NewAcceptanceGate(runner)
	verdict := gate.CheckGate(context.Background(), tests, DefaultGateThresholds())
	assert.False(t, verdict.GatePassed)
	assert.False(t, verdict.CanRelease)
	assert.Equal(t, 0.0, verdict.MustRate)
}

func TestCheckGate_ShouldBelowThresholdBlocksGateButReleaseStillAllowed(t *testing.T) {
	tests := []AcceptanceTest{
		{ID: "m1", Priority: PriorityMust},
		{ID: "s1", Priority: PriorityShould},
	}
	runner := &fakeRunner{results: map[string]AcceptanceResult{
		"m1": {Status: AcceptancePass},
		"s1": {Status: AcceptanceFail},
	}}
	gate := NewAcceptanceGate(runner)
	verdict := gate.CheckGate(context.Background(), tests, DefaultGateThresholds())
	assert.False(t, verdict.GatePassed)
	assert.True(t, verdict.CanRelease)
}

func TestCheckGate_RunnerErrorCountsAsFailure(t *testing.T) {
	tests := []AcceptanceTest{
		{ID: "m1", Priority: PriorityMust},
	}
	runner := &fakeRunner{err: map[string]error{"m1": errors.New("sandbox unavailable")}}
	gate := NewAcceptanceGate(runner)
	verdict := gate.CheckGate(context.Background(), tests, DefaultGateThresholds())
	assert.False(t, verdict.GatePassed)
	assert.Equal(t, AcceptanceError, verdict.Results[0].Status)
	assert.Contains(t, verdict.Results[0].ErrorMessage, "sandbox unavailable")
}
