package source

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	MetricTemperature = "temperature"
	MetricPower       = "power"
	MetricFanSpeed    = "fan"
	MetricUtilization = "utilization"

	milliWattsToWatts = 1000
)

// nvmlMetrics maps a metric name to its reader and unit.
var nvmlMetrics = map[string]struct {
	unit string
	read func(nvmlDevice) (float64, nvml.Return)
}{
	MetricTemperature: {"°C", func(d nvmlDevice) (float64, nvml.Return) {
		v, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
		return float64(v), ret
	}},
	MetricPower: {"W", func(d nvmlDevice) (float64, nvml.Return) {
		v, ret := d.GetPowerUsage()
		return float64(v) / milliWattsToWatts, ret
	}},
	MetricFanSpeed: {"%", func(d nvmlDevice) (float64, nvml.Return) {
		v, ret := d.GetFanSpeed()
		return float64(v), ret
	}},
	MetricUtilization: {"%", func(d nvmlDevice) (float64, nvml.Return) {
		u, ret := d.GetUtilizationRates()
		return float64(u.Gpu), ret
	}},
}

// nvmlDevice is the part of nvml.Device a source reads.
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetFanSpeed() (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
}

// nvmlLibrary abstracts NVML operations for testing
type nvmlLibrary interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceByIndex(index int) (nvmlDevice, nvml.Return)
	DeviceByUUID(uuid string) (nvmlDevice, nvml.Return)
	DriverVersion() (string, nvml.Return)
}

type nvmlWrapper struct{}

func (nvmlWrapper) Init() nvml.Return     { return nvml.Init() }
func (nvmlWrapper) Shutdown() nvml.Return { return nvml.Shutdown() }

func (nvmlWrapper) DeviceByIndex(index int) (nvmlDevice, nvml.Return) {
	return nvml.DeviceGetHandleByIndex(index)
}

func (nvmlWrapper) DeviceByUUID(uuid string) (nvmlDevice, nvml.Return) {
	return nvml.DeviceGetHandleByUUID(uuid)
}

func (nvmlWrapper) DriverVersion() (string, nvml.Return) {
	return nvml.SystemGetDriverVersion()
}

// nvmlDriver reads one metric from an NVIDIA GPU. The address is a device
// index ("0") or a UUID ("GPU-...").
type nvmlDriver struct {
	cfg Config
	lib nvmlLibrary
}

func (*nvmlDriver) Kind() string { return KindNVML }

func (d *nvmlDriver) Open(_ context.Context, address string) (Source, error) {
	errFactory := errors.New()

	metric, ok := nvmlMetrics[d.cfg.Metric]
	if !ok {
		return nil, errFactory.WithData(ErrNVMLUnsupported, d.cfg.Metric)
	}

	if ret := d.lib.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrNVMLInit, newNVMLError(ret))
	}

	device, err := d.device(address)
	if err != nil {
		if ret := d.lib.Shutdown(); !IsNVMLSuccess(ret) {
			logger.Warn().Err(newNVMLError(ret)).Msg("NVML shutdown after failed open")
		}
		return nil, err
	}

	s := &nvmlSource{
		lib:    d.lib,
		device: device,
		metric: d.cfg.Metric,
		unit:   metric.unit,
		read:   metric.read,
	}
	s.identity = s.describe()

	logger.Info().
		Str("model", s.identity.Model).
		Str("uuid", s.identity.Serial).
		Str("driver", s.identity.Firmware).
		Str("metric", s.metric).
		Msg("GPU source opened")

	return s, nil
}

func (d *nvmlDriver) device(address string) (nvmlDevice, error) {
	errFactory := errors.New()

	address = strings.TrimSpace(address)
	if address == "" {
		address = "0"
	}

	if strings.HasPrefix(address, "GPU-") || strings.HasPrefix(address, "MIG-") {
		dev, ret := d.lib.DeviceByUUID(address)
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrNVMLDevice, newNVMLError(ret)).WithData(address)
		}
		return dev, nil
	}

	index, err := strconv.Atoi(address)
	if err != nil || index < 0 {
		return nil, errFactory.WithData(ErrBadAddress, address)
	}

	dev, ret := d.lib.DeviceByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrNVMLDevice, newNVMLError(ret)).WithData(address)
	}
	return dev, nil
}

type nvmlSource struct {
	lib      nvmlLibrary
	device   nvmlDevice
	metric   string
	unit     string
	read     func(nvmlDevice) (float64, nvml.Return)
	identity Identity

	mu     sync.Mutex
	closed bool
}

func (s *nvmlSource) describe() Identity {
	id := Identity{Vendor: "NVIDIA", Unit: s.unit}
	if name, ret := s.device.GetName(); IsNVMLSuccess(ret) {
		id.Model = name
	}
	if uuid, ret := s.device.GetUUID(); IsNVMLSuccess(ret) {
		id.Serial = uuid
	}
	if version, ret := s.lib.DriverVersion(); IsNVMLSuccess(ret) {
		id.Firmware = version
	}
	return id
}

func (s *nvmlSource) Sample(_ context.Context) (float64, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errFactory.New(ErrClosed)
	}

	v, ret := s.read(s.device)
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLReadFailed, newNVMLError(ret)).WithData(s.metric)
	}

	return v, nil
}

func (s *nvmlSource) Identity() Identity { return s.identity }

func (s *nvmlSource) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.New(ErrClosed)
	}
	s.closed = true

	if ret := s.lib.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLShutdownFail, newNVMLError(ret))
	}
	return nil
}
