package chaos_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/agentbus/governance/chaos"
)

func TestInjector_ZeroValueNeverInjects(t *testing.T) {
	c := chaos.NewInjector("staging")
	assert.False(t, c.ShouldInject("policy.evaluate"))
}

func TestInjector_ProductionModeNeverInjectsEvenWithProfileLoaded(t *testing.T) {
	c := chaos.NewInjector("production")
	c.Load(chaos.Profile{Name: "always-fail", Seed: 1, Probability: map[chaos.Point]float64{"policy.evaluate": 1.0}})
	assert.False(t, c.ShouldInject("policy.evaluate"))
}

func TestInjector_EmergencyStopOverridesActiveProfile(t *testing.T) {
	c := chaos.NewInjector("staging")
	c.Load(chaos.Profile{Name: "always-fail", Seed: 1, Probability: map[chaos.Point]float64{"policy.evaluate": 1.0}})
	c.EmergencyStop(true)
	assert.False(t, c.ShouldInject("policy.evaluate"))

	c.EmergencyStop(false)
	assert.True(t, c.ShouldInject("policy.evaluate"))
}

func TestInjector_UnknownPointNeverInjects(t *testing.T) {
	c := chaos.NewInjector("staging")
	c.Load(chaos.Profile{Name: "p", Seed: 1, Probability: map[chaos.Point]float64{"policy.evaluate": 1.0}})
	assert.False(t, c.ShouldInject("some.other.point"))
}

func TestInjector_SameSeedProducesDeterministicSequence(t *testing.T) {
	profile := chaos.Profile{Name: "p", Seed: 42, Probability: map[chaos.Point]float64{"audit.enqueue": 0.5}}

	c1 := chaos.NewInjector("staging")
	c1.Load(profile)
	c2 := chaos.NewInjector("staging")
	c2.Load(profile)

	for i := 0; i < 20; i++ {
		assert.Equal(t, c1.ShouldInject("audit.enqueue"), c2.ShouldInject("audit.enqueue"))
	}
}

func TestInjector_BlastRadiusCapsAffectedFraction(t *testing.T) {
	c := chaos.NewInjector("staging")
	c.Load(chaos.Profile{
		Name:        "capped",
		Seed:        1,
		Probability: map[chaos.Point]float64{"policy.evaluate": 1.0},
		BlastRadius: 0.5,
	})

	assert.True(t, c.ShouldInject("policy.evaluate"), "the first sequential call should be allowed to inject")
	assert.False(t, c.ShouldInject("policy.evaluate"), "blast radius must reject further injection once the cap is reached")
}
