package calibration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquisitionErrorMessages(t *testing.T) {
	tests := []struct {
		err  *AcquisitionError
		want string
	}{
		{&AcquisitionError{Kind: ErrReferenceNotFound, Hand: HandLeft}, "No left controller found."},
		{&AcquisitionError{Kind: ErrReferenceNotFound, Hand: HandRight}, "No right controller found."},
		{&AcquisitionError{Kind: ErrTrackingUnavailable, Hand: HandLeft}, "Left controller tracking problems."},
		{&AcquisitionError{Kind: ErrTrackingUnavailable, Hand: HandRight}, "Right controller tracking problems."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestAcquisitionErrorIs(t *testing.T) {
	var err error = &AcquisitionError{Kind: ErrTrackingUnavailable, Hand: HandRight}
	assert.True(t, errors.Is(err, ErrTrackingUnavailable))
	assert.False(t, errors.Is(err, ErrReferenceNotFound))

	var acq *AcquisitionError
	assert.True(t, errors.As(err, &acq))
	assert.Equal(t, HandRight, acq.Hand)
}

func TestPhaseActive(t *testing.T) {
	assert.False(t, PhaseInactive.Active())
	assert.True(t, PhaseSelectingReference.Active())
	assert.True(t, PhaseAccumulating.Active())
}
