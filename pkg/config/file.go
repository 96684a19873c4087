package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/floorfix/floorfix/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		SampleCount:                    ptr.To(25),
		ControllerUpOffsetCorrection:   ptr.To(0.062),
		ControllerDownOffsetCorrection: ptr.To(0.006),
		// ~90 Hz, the usual headset refresh rate.
		TickIntervalMs:     ptr.To(11),
		MaxPoseAgeMs:       ptr.To(500),
		PoseSource:         ptr.To(PoseSourceMQTT),
		MQTTBroker:         ptr.To(""),
		MQTTClientID:       ptr.To("floorfix"),
		MQTTUsername:       ptr.To(""),
		MQTTPassword:       ptr.To(""),
		MQTTPoseTopic:      ptr.To("floorfix/poses"),
		MQTTStatusTopic:    ptr.To("floorfix/status"),
		OriginStorePath:    ptr.To("/var/lib/floorfix/universe.json"),
		Cron:               ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields take their defaults.
type RawFileConfig struct {
	SampleCount                    *int     `json:"sampleCount,omitempty" yaml:"sampleCount,omitempty"`
	ControllerUpOffsetCorrection   *float64 `json:"controllerUpOffsetCorrection,omitempty" yaml:"controllerUpOffsetCorrection,omitempty"`
	ControllerDownOffsetCorrection *float64 `json:"controllerDownOffsetCorrection,omitempty" yaml:"controllerDownOffsetCorrection,omitempty"`
	TickIntervalMs                 *int     `json:"tickIntervalMs,omitempty" yaml:"tickIntervalMs,omitempty"`
	MaxPoseAgeMs                   *int     `json:"maxPoseAgeMs,omitempty" yaml:"maxPoseAgeMs,omitempty"`
	PoseSource                     *string  `json:"poseSource,omitempty" yaml:"poseSource,omitempty"`
	MQTTBroker                     *string  `json:"mqttBroker,omitempty" yaml:"mqttBroker,omitempty"`
	MQTTClientID                   *string  `json:"mqttClientId,omitempty" yaml:"mqttClientId,omitempty"`
	MQTTUsername                   *string  `json:"mqttUsername,omitempty" yaml:"mqttUsername,omitempty"`
	MQTTPassword                   *string  `json:"mqttPassword,omitempty" yaml:"mqttPassword,omitempty"`
	MQTTPoseTopic                  *string  `json:"mqttPoseTopic,omitempty" yaml:"mqttPoseTopic,omitempty"`
	MQTTStatusTopic                *string  `json:"mqttStatusTopic,omitempty" yaml:"mqttStatusTopic,omitempty"`
	OriginStorePath                *string  `json:"originStorePath,omitempty" yaml:"originStorePath,omitempty"`
	Cron                           *string  `json:"cron,omitempty" yaml:"cron,omitempty"`
	AllowNonRootAccess             *bool    `json:"allowNonRootAccess,omitempty" yaml:"allowNonRootAccess,omitempty"`
}

// Validate checks values that would break the daemon.
func (r *RawFileConfig) Validate() error {
	if r.SampleCount != nil && *r.SampleCount < 2 {
		return fmt.Errorf("sampleCount must be at least 2, got %d", *r.SampleCount)
	}
	if r.TickIntervalMs != nil && *r.TickIntervalMs <= 0 {
		return fmt.Errorf("tickIntervalMs must be positive, got %d", *r.TickIntervalMs)
	}
	if r.MaxPoseAgeMs != nil && *r.MaxPoseAgeMs <= 0 {
		return fmt.Errorf("maxPoseAgeMs must be positive, got %d", *r.MaxPoseAgeMs)
	}
	if r.PoseSource != nil {
		switch *r.PoseSource {
		case PoseSourceMQTT, PoseSourceSimulated:
		default:
			return fmt.Errorf("unknown poseSource %q", *r.PoseSource)
		}
	}
	return nil
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// get reads one field under the read lock, falling back to its default.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) SampleCount() int {
	return get(f, func(c *RawFileConfig) *int { return c.SampleCount })
}

func (f *File) ControllerUpOffsetCorrection() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.ControllerUpOffsetCorrection })
}

func (f *File) ControllerDownOffsetCorrection() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.ControllerDownOffsetCorrection })
}

func (f *File) TickInterval() time.Duration {
	ms := get(f, func(c *RawFileConfig) *int { return c.TickIntervalMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) MaxPoseAge() time.Duration {
	ms := get(f, func(c *RawFileConfig) *int { return c.MaxPoseAgeMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) PoseSource() string {
	return get(f, func(c *RawFileConfig) *string { return c.PoseSource })
}

func (f *File) MQTTBroker() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTBroker })
}

func (f *File) MQTTClientID() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTClientID })
}

func (f *File) MQTTUsername() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTUsername })
}

func (f *File) MQTTPassword() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTPassword })
}

func (f *File) MQTTPoseTopic() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTPoseTopic })
}

func (f *File) MQTTStatusTopic() string {
	return get(f, func(c *RawFileConfig) *string { return c.MQTTStatusTopic })
}

func (f *File) OriginStorePath() string {
	return get(f, func(c *RawFileConfig) *string { return c.OriginStorePath })
}

func (f *File) Cron() string {
	return get(f, func(c *RawFileConfig) *string { return c.Cron })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetSampleCount(i int) {
	if f.c == nil {
		panic("config is nil")
	}

	if i < 2 {
		panic("sample count must be at least 2")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SampleCount = &i
}

func (f *File) SetCron(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Cron = &s
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using a decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	if f.isYAML() {
		enc := yaml.NewEncoder(fp)
		enc.SetIndent(2)
		err = enc.Encode(f.c)
		if err == nil {
			err = enc.Close()
		}
	} else {
		enc := json.NewEncoder(fp)
		enc.SetIndent("", "  ")
		err = enc.Encode(f.c)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// NewRawFileConfigFromConfig returns the on-disk form of c with every value
// filled in. MQTT credentials are left out.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		SampleCount:                    ptr.To(c.SampleCount()),
		ControllerUpOffsetCorrection:   ptr.To(c.ControllerUpOffsetCorrection()),
		ControllerDownOffsetCorrection: ptr.To(c.ControllerDownOffsetCorrection()),
		TickIntervalMs:                 ptr.To(int(c.TickInterval() / time.Millisecond)),
		MaxPoseAgeMs:                   ptr.To(int(c.MaxPoseAge() / time.Millisecond)),
		PoseSource:                     ptr.To(c.PoseSource()),
		MQTTBroker:                     ptr.To(c.MQTTBroker()),
		MQTTClientID:                   ptr.To(c.MQTTClientID()),
		MQTTPoseTopic:                  ptr.To(c.MQTTPoseTopic()),
		MQTTStatusTopic:                ptr.To(c.MQTTStatusTopic()),
		OriginStorePath:                ptr.To(c.OriginStorePath()),
		Cron:                           ptr.To(c.Cron()),
		AllowNonRootAccess:             ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"sampleCount":                    f.SampleCount(),
		"controllerUpOffsetCorrection":   f.ControllerUpOffsetCorrection(),
		"controllerDownOffsetCorrection": f.ControllerDownOffsetCorrection(),
		"tickInterval":                   f.TickInterval(),
		"maxPoseAge":                     f.MaxPoseAge(),
		"poseSource":                     f.PoseSource(),
		"mqttBroker":                     f.MQTTBroker(),
		"mqttPoseTopic":                  f.MQTTPoseTopic(),
		"mqttStatusTopic":                f.MQTTStatusTopic(),
		"originStorePath":                f.OriginStorePath(),
		"cron":                           f.Cron(),
		"allowNonRootAccess":             f.AllowNonRootAccess(),
	}
}
