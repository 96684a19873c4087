// Package tracking holds the pose data a floor fix consumes: one snapshot of
// every tracked device per frame, relative to the standing tracking origin.
package tracking

import (
	"errors"
	"fmt"
	"time"
)

// DeviceID indexes a tracked device within a snapshot.
type DeviceID uint32

// InvalidDeviceID is returned by role lookups that found no device.
const InvalidDeviceID DeviceID = 0xFFFFFFFF

// MaxTrackedDevices bounds the size of a snapshot.
const MaxTrackedDevices = 64

// RigidTolerance is how far a valid pose's rotation may stray from
// orthonormal. Poses arrive as float32.
const RigidTolerance = 1e-3

// Role is a controller role assigned by the tracking system.
type Role string

const (
	RoleLeftHand  Role = "LeftHand"
	RoleRightHand Role = "RightHand"
)

// TrackingResult mirrors the tracking system's per-device tracking state.
type TrackingResult string

const (
	ResultUninitialized         TrackingResult = "Uninitialized"
	ResultCalibratingInProgress TrackingResult = "Calibrating_InProgress"
	ResultCalibratingOutOfRange TrackingResult = "Calibrating_OutOfRange"
	ResultRunningOK             TrackingResult = "Running_OK"
	ResultRunningOutOfRange     TrackingResult = "Running_OutOfRange"
	ResultFallbackRotationOnly  TrackingResult = "Fallback_RotationOnly"
)

// DevicePose is the pose of one device in one frame.
type DevicePose struct {
	ID        DeviceID       `json:"id"`
	Valid     bool           `json:"valid"`
	Connected bool           `json:"connected"`
	Result    TrackingResult `json:"result"`
	Transform Matrix34       `json:"transform"`
}

// Tracking reports whether the pose can be trusted: valid, connected and
// running OK.
func (p DevicePose) Tracking() bool {
	return p.Valid && p.Connected && p.Result == ResultRunningOK
}

// Snapshot is the set of device poses for one frame. Poses is indexed by
// device id.
type Snapshot struct {
	Poses     []DevicePose      `json:"poses"`
	Roles     map[Role]DeviceID `json:"roles"`
	Timestamp time.Time         `json:"timestamp"`
}

// Pose returns the pose of device id. Ids outside the snapshot yield the zero
// pose, which is not valid.
func (s Snapshot) Pose(id DeviceID) DevicePose {
	if int64(id) >= int64(len(s.Poses)) {
		return DevicePose{ID: id}
	}
	return s.Poses[id]
}

// DeviceForRole returns the device assigned to role or InvalidDeviceID.
func (s Snapshot) DeviceForRole(role Role) DeviceID {
	id, ok := s.Roles[role]
	if !ok {
		return InvalidDeviceID
	}
	return id
}

// Validate checks the structural shape of a snapshot received from outside.
func (s Snapshot) Validate() error {
	if len(s.Poses) > MaxTrackedDevices {
		return errors.New("too many tracked devices")
	}
	for i, p := range s.Poses {
		if p.ID != DeviceID(i) {
			return errors.New("pose ids must match their index")
		}
		if p.Valid && !p.Transform.IsRigid(RigidTolerance) {
			return fmt.Errorf("pose %d has a non-rigid transform", i)
		}
	}
	return nil
}

// Source supplies the latest snapshot of device poses.
type Source interface {
	Snapshot() (Snapshot, error)
}
