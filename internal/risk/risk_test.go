package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInventoryVarianceRequiresTwoSamples(t *testing.T) {
	var s State
	assert.Equal(t, 0.0, s.InventoryVariance())

	s.UpdateInventoryVariance(10)
	assert.Equal(t, 0.0, s.InventoryVariance())

	s.UpdateInventoryVariance(20)
	assert.Greater(t, s.InventoryVariance(), 0.0)
}

func TestInventoryVarianceOfConstantSeriesIsZero(t *testing.T) {
	var s State
	for i := 0; i < 10; i++ {
		s.UpdateInventoryVariance(5)
	}
	assert.Equal(t, 0.0, s.InventoryVariance())
}

func TestInventoryVarianceMatchesKnownSample(t *testing.T) {
	var s State
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.UpdateInventoryVariance(v)
	}
	// Population {2,4,4,4,5,5,7,9}: mean 5, sample variance 4.5714...
	assert.InDelta(t, 4.5714, s.InventoryVariance(), 0.001)
}

func TestTotalPnLSumsAllThreeComponents(t *testing.T) {
	s := State{RealizedPnL: 100, UnrealizedPnL: -20, TotalAdversePnL: -5}
	assert.Equal(t, 75.0, s.TotalPnL())
}

func TestCheckHaltTripsWhenLossBreachesLimit(t *testing.T) {
	s := State{RealizedPnL: -1000}
	s.CheckHalt(500)
	assert.True(t, s.Halted)
}

func TestCheckHaltDoesNotTripWithinLimit(t *testing.T) {
	s := State{RealizedPnL: -100}
	s.CheckHalt(500)
	assert.False(t, s.Halted)
}

func TestCheckHaltIsStickyOnceTripped(t *testing.T) {
	s := State{RealizedPnL: -1000, Halted: true}
	s.RealizedPnL = 0 // recovers above the limit
	s.CheckHalt(500)
	assert.True(t, s.Halted, "halt must remain sticky for the session")
}

func TestCheckHaltExactlyAtLimitDoesNotTrip(t *testing.T) {
	s := State{RealizedPnL: -500}
	s.CheckHalt(500)
	assert.False(t, s.Halted, "loss strictly less than -maxDailyLoss is required to halt")
}
