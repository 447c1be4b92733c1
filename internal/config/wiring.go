package config

import (
	"fmt"

	"github.com/spinlab-data/nvsweep/internal/camera"
	"github.com/spinlab-data/nvsweep/internal/monitoring"
	"github.com/spinlab-data/nvsweep/internal/mwsource"
	"github.com/spinlab-data/nvsweep/internal/pulse"
)

// Sequencer defaults when the wiring file leaves them unset. The sample
// rate matches the Pulse Streamer 8/2; the memory limit is its 1 GSa
// pattern store.
const (
	defaultSampleRateHz  = 1.25e9
	defaultMemorySamples = 1 << 30
)

// Assemble builds camera, microwave source and pattern uploader from the
// wiring graph. With dev set, every module is replaced by its simulated
// counterpart regardless of configured type.
func (c *Config) Assemble(dev bool) (camera.Camera, mwsource.Source, pulse.Uploader, error) {
	cam, err := c.assembleCamera(dev)
	if err != nil {
		return nil, nil, nil, err
	}
	mw, err := c.assembleMW(dev)
	if err != nil {
		return nil, nil, nil, err
	}
	up, err := c.assembleSequencer()
	if err != nil {
		return nil, nil, nil, err
	}
	return cam, mw, up, nil
}

func (c *Config) assembleCamera(dev bool) (camera.Camera, error) {
	name, m, ok := c.FindByRole(RoleCamera)
	if !ok {
		return nil, fmt.Errorf("no camera module configured")
	}
	width, height := m.Options.Width, m.Options.Height
	if width == 0 {
		width = 1200
	}
	if height == 0 {
		height = 1200
	}

	if !dev && m.Type == "prime95b" {
		// the vendor acquisition SDK is not linked in this build
		return nil, fmt.Errorf("module %q: prime95b driver requires the vendor SDK; run with -dev or configure sim_camera", name)
	}

	cam := camera.NewSim(width, height)
	if m.Options.ExposureS > 0 {
		if err := cam.SetExposure(m.Options.ExposureS); err != nil {
			return nil, fmt.Errorf("module %q: %w", name, err)
		}
	}
	if m.Options.Gain > 0 {
		if err := cam.SetGain(m.Options.Gain); err != nil {
			return nil, fmt.Errorf("module %q: %w", name, err)
		}
	}
	monitoring.Logf("[config] camera %q: %s %dx%d", name, m.Type, width, height)
	return cam, nil
}

func (c *Config) assembleMW(dev bool) (mwsource.Source, error) {
	name, m, ok := c.FindByRole(RoleMW)
	if !ok {
		return nil, fmt.Errorf("no microwave source module configured")
	}
	if dev || m.Type == "sim_mw" {
		monitoring.Logf("[config] microwave source %q: simulated", name)
		return mwsource.NewMock(), nil
	}
	if m.Options.Port == "" {
		return nil, fmt.Errorf("module %q: scpi_serial requires a port", name)
	}
	src, err := mwsource.NewSerialSource(m.Options.Port)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", name, err)
	}
	monitoring.Logf("[config] microwave source %q: %s on %s", name, m.Type, m.Options.Port)
	return src, nil
}

func (c *Config) assembleSequencer() (pulse.Uploader, error) {
	name, m, ok := c.FindByRole(RoleSequencer)
	if !ok {
		return nil, fmt.Errorf("no sequencer module configured")
	}
	rate := m.Options.SampleRateHz
	if rate <= 0 {
		rate = defaultSampleRateHz
	}
	limit := m.Options.MemorySamples
	if limit <= 0 {
		limit = defaultMemorySamples
	}
	monitoring.Logf("[config] sequencer %q: %s at %g Sa/s, %d sample memory", name, m.Type, rate, limit)
	return pulse.NewMemoryUploader(rate, limit), nil
}
