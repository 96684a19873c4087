package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 25, f.SampleCount())
	assert.Equal(t, 0.062, f.ControllerUpOffsetCorrection())
	assert.Equal(t, 0.006, f.ControllerDownOffsetCorrection())
	assert.Equal(t, 11*time.Millisecond, f.TickInterval())
	assert.Equal(t, 500*time.Millisecond, f.MaxPoseAge())
	assert.Equal(t, PoseSourceMQTT, f.PoseSource())
	assert.Equal(t, "floorfix", f.MQTTClientID())
	assert.Equal(t, "floorfix/poses", f.MQTTPoseTopic())
	assert.Equal(t, "floorfix/status", f.MQTTStatusTopic())
	assert.Equal(t, "", f.Cron())
	assert.False(t, f.AllowNonRootAccess())
}

func TestEmptyFile(t *testing.T) {
	f, err := NewFile(writeConfig(t, "config.json", "\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, 25, f.SampleCount())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "sampleCount": 40,
  "controllerUpOffsetCorrection": 0.07,
  "tickIntervalMs": 20,
  "poseSource": "sim",
  "cron": "0 9 * * 1"
}`)
	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, 40, f.SampleCount())
	assert.Equal(t, 0.07, f.ControllerUpOffsetCorrection())
	assert.Equal(t, 0.006, f.ControllerDownOffsetCorrection())
	assert.Equal(t, 20*time.Millisecond, f.TickInterval())
	assert.Equal(t, PoseSourceSimulated, f.PoseSource())
	assert.Equal(t, "0 9 * * 1", f.Cron())
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sampleCount: 30
mqttBroker: tcp://broker.local:1883
mqttPoseTopic: rig/poses
allowNonRootAccess: true
`)
	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, 30, f.SampleCount())
	assert.Equal(t, "tcp://broker.local:1883", f.MQTTBroker())
	assert.Equal(t, "rig/poses", f.MQTTPoseTopic())
	assert.True(t, f.AllowNonRootAccess())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad json", "config.json", "{"},
		{"bad yaml", "config.yml", "sampleCount: [1"},
		{"sample count too small", "config.json", `{"sampleCount": 1}`},
		{"zero tick", "config.json", `{"tickIntervalMs": 0}`},
		{"unknown source", "config.yaml", "poseSource: openvr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFile(writeConfig(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			f, err := NewFile(path)
			require.NoError(t, err)

			f.SetSampleCount(50)
			f.SetCron("30 8 * * *")
			f.SetAllowNonRootAccess(true)
			require.NoError(t, f.Save())

			g, err := NewFile(path)
			require.NoError(t, err)
			assert.Equal(t, 50, g.SampleCount())
			assert.Equal(t, "30 8 * * *", g.Cron())
			assert.True(t, g.AllowNonRootAccess())
			// Untouched keys are not written out.
			assert.Nil(t, g.c.TickIntervalMs)
		})
	}
}

func TestSetSampleCountPanics(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	assert.Panics(t, func() { f.SetSampleCount(1) })
}

func TestRawFillsDefaults(t *testing.T) {
	f := NewFileFromConfig(&RawFileConfig{MQTTPassword: ptrString("secret")}, "")
	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	require.NotNil(t, raw.SampleCount)
	assert.Equal(t, 25, *raw.SampleCount)
	assert.Nil(t, raw.MQTTPassword)
}

func TestRawFromNilConfig(t *testing.T) {
	_, err := NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)
}

func TestLogrusFields(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	fields := f.LogrusFields()
	assert.Equal(t, 25, fields["sampleCount"])
	assert.Equal(t, PoseSourceMQTT, fields["poseSource"])
}

func ptrString(s string) *string { return &s }
