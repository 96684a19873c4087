package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Pose source kinds.
const (
	PoseSourceMQTT      = "mqtt"
	PoseSourceSimulated = "sim"
)

type Config interface {
	SampleCount() int
	ControllerUpOffsetCorrection() float64
	ControllerDownOffsetCorrection() float64
	TickInterval() time.Duration
	MaxPoseAge() time.Duration

	PoseSource() string
	MQTTBroker() string
	MQTTClientID() string
	MQTTUsername() string
	MQTTPassword() string
	MQTTPoseTopic() string
	MQTTStatusTopic() string

	OriginStorePath() string
	Cron() string
	AllowNonRootAccess() bool

	SetSampleCount(int)
	SetCron(string)
	SetAllowNonRootAccess(bool)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
