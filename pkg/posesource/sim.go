package posesource

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/floorfix/floorfix/pkg/tracking"
)

// Device ids used by the simulated rig.
const (
	SimHMD        tracking.DeviceID = 0
	SimLeftHand   tracking.DeviceID = 1
	SimRightHand  tracking.DeviceID = 2
	simDeviceSize                   = 3
)

// Rig describes the simulated controllers.
type Rig struct {
	LeftHeight  float64
	RightHeight float64
	// Roll of both controllers about their forward axis. Near 0 the
	// touchpads face up; near pi they face down.
	Roll float64
	// Jitter is the peak uniform noise added to height and roll.
	Jitter float64
	Seed   int64
}

// DefaultRig is two controllers resting touchpad-up on a floor 10cm above
// the tracking origin.
var DefaultRig = Rig{
	LeftHeight:  0.162,
	RightHeight: 0.171,
	Jitter:      0.0005,
	Seed:        1,
}

// SimulatedSource produces snapshots of a static rig with bounded noise.
type SimulatedSource struct {
	mu  sync.Mutex
	rig Rig
	rnd *rand.Rand
	now func() time.Time
}

// NewSimulatedSource creates a deterministic source for rig.
func NewSimulatedSource(rig Rig) *SimulatedSource {
	return &SimulatedSource{
		rig: rig,
		rnd: rand.New(rand.NewSource(rig.Seed)),
		now: time.Now,
	}
}

// SetRig replaces the rig. The noise sequence is reseeded.
func (s *SimulatedSource) SetRig(rig Rig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rig = rig
	s.rnd = rand.New(rand.NewSource(rig.Seed))
}

func (s *SimulatedSource) noise() float64 {
	if s.rig.Jitter == 0 {
		return 0
	}
	return (s.rnd.Float64()*2 - 1) * s.rig.Jitter
}

// Snapshot returns a fresh frame of the rig.
func (s *SimulatedSource) Snapshot() (tracking.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poses := make([]tracking.DevicePose, simDeviceSize)
	poses[SimHMD] = tracking.DevicePose{
		ID:        SimHMD,
		Valid:     true,
		Connected: true,
		Result:    tracking.ResultRunningOK,
		Transform: tracking.Identity().Translate(tracking.Identity().Up().Mul(1.7)),
	}
	poses[SimLeftHand] = s.controller(SimLeftHand, -0.2, s.rig.LeftHeight)
	poses[SimRightHand] = s.controller(SimRightHand, 0.2, s.rig.RightHeight)

	return tracking.Snapshot{
		Poses: poses,
		Roles: map[tracking.Role]tracking.DeviceID{
			tracking.RoleLeftHand:  SimLeftHand,
			tracking.RoleRightHand: SimRightHand,
		},
		Timestamp: s.now(),
	}, nil
}

func (s *SimulatedSource) controller(id tracking.DeviceID, x, height float64) tracking.DevicePose {
	roll := math.Remainder(s.rig.Roll+s.noise(), 2*math.Pi)
	return tracking.DevicePose{
		ID:        id,
		Valid:     true,
		Connected: true,
		Result:    tracking.ResultRunningOK,
		Transform: tracking.FromRollHeight(roll, x, height+s.noise(), -0.3),
	}
}
