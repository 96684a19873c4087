package posesource

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorfix/floorfix/pkg/tracking"
)

func TestSimulatedSourceGeometry(t *testing.T) {
	tests := []struct {
		name string
		roll float64
	}{
		{"touchpad up", 0},
		{"tilted", 0.4},
		{"touchpad down", math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSimulatedSource(Rig{LeftHeight: 0.1, RightHeight: 0.2, Roll: tt.roll})
			snap, err := s.Snapshot()
			require.NoError(t, err)
			require.NoError(t, snap.Validate())

			left := snap.Pose(snap.DeviceForRole(tracking.RoleLeftHand))
			right := snap.Pose(snap.DeviceForRole(tracking.RoleRightHand))
			assert.True(t, left.Tracking())
			assert.True(t, right.Tracking())
			assert.InDelta(t, 0.1, left.Transform.Height(), 1e-12)
			assert.InDelta(t, 0.2, right.Transform.Height(), 1e-12)
			assert.InDelta(t, 0, math.Remainder(left.Transform.Roll()-tt.roll, 2*math.Pi), 1e-12)
			assert.True(t, left.Transform.IsRigid(1e-9))
		})
	}
}

func TestSimulatedSourceJitterBounded(t *testing.T) {
	rig := Rig{LeftHeight: 0.15, RightHeight: 0.15, Roll: 0.2, Jitter: 0.001, Seed: 7}
	s := NewSimulatedSource(rig)
	for i := 0; i < 200; i++ {
		snap, err := s.Snapshot()
		require.NoError(t, err)
		pose := snap.Pose(SimLeftHand).Transform
		assert.InDelta(t, rig.LeftHeight, pose.Height(), rig.Jitter)
		assert.InDelta(t, rig.Roll, pose.Roll(), rig.Jitter+1e-12)
	}
}

func TestSimulatedSourceDeterministic(t *testing.T) {
	rig := DefaultRig
	a, err := NewSimulatedSource(rig).Snapshot()
	require.NoError(t, err)
	b, err := NewSimulatedSource(rig).Snapshot()
	require.NoError(t, err)
	assert.Equal(t, a.Poses, b.Poses)
}

func TestSimulatedSourceSetRig(t *testing.T) {
	s := NewSimulatedSource(DefaultRig)
	s.SetRig(Rig{LeftHeight: 1, RightHeight: 2})
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Pose(SimLeftHand).Transform.Height())
}

func TestSimulatedSourceTimestamp(t *testing.T) {
	s := NewSimulatedSource(DefaultRig)
	clock := newFakeClock()
	clock.installSim(s)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), snap.Timestamp)
}
