// Package chaos implements the chaos injector (C16): deterministic,
// profile-seeded fault injection at named points, bounded by a blast-radius
// cap and an emergency-stop flag, never active in production mode.
package chaos

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Point names an injection location, e.g. "policy.evaluate" or
// "audit.enqueue".
type Point string

// Profile names injection points and their deterministic probabilities,
// seeded by a profile-global seed so a run is reproducible.
type Profile struct {
	Name        string
	Seed        int64
	Probability map[Point]float64
	// BlastRadius caps the fraction of concurrent requests a profile may
	// affect, in [0,1].
	BlastRadius float64
}

// Injector is C16. A nil or unloaded Injector (zero value) never injects.
type Injector struct {
	mu            sync.Mutex
	profile       *Profile
	rng           *rand.Rand
	mode          string
	emergencyStop int32
	inFlight      int64
	affected      int64
}

// NewInjector constructs an Injector for the given deployment mode. Mode
// "production" permanently disables injection regardless of profile.
func NewInjector(mode string) *Injector {
	return &Injector{mode: mode}
}

// Load activates profile. A no-op when mode is "production".
func (c *Injector) Load(profile Profile) {
	if c.mode == "production" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := profile
	c.profile = &p
	c.rng = rand.New(rand.NewSource(profile.Seed))
}

// Unload deactivates the current profile.
func (c *Injector) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = nil
}

// EmergencyStop sets the readable-by-every-injection-point kill switch.
func (c *Injector) EmergencyStop(stop bool) {
	if stop {
		atomic.StoreInt32(&c.emergencyStop, 1)
	} else {
		atomic.StoreInt32(&c.emergencyStop, 0)
	}
}

// ShouldInject reports whether point should fail for the current call,
// enforcing the blast-radius cap across concurrently in-flight calls.
func (c *Injector) ShouldInject(point Point) bool {
	if c.mode == "production" || atomic.LoadInt32(&c.emergencyStop) == 1 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return false
	}
	prob, ok := c.profile.Probability[point]
	if !ok || prob <= 0 {
		return false
	}

	inFlight := atomic.AddInt64(&c.inFlight, 1)
	defer atomic.AddInt64(&c.inFlight, -1)

	if c.profile.BlastRadius > 0 {
		affected := atomic.LoadInt64(&c.affected)
		if float64(affected)/float64(inFlight) >= c.profile.BlastRadius {
			return false
		}
	}

	if c.rng.Float64() < prob {
		atomic.AddInt64(&c.affected, 1)
		return true
	}
	return false
}
