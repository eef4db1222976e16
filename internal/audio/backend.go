package audio

import (
	"fmt"
	"strings"
)

// Backend represents the ffmpeg input device used for audio capture
type Backend string

const (
	BackendPulse Backend = "pulse"
	BackendALSA  Backend = "alsa"
	BackendDShow Backend = "dshow"
)

// ParseBackend normalises a configured backend name
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pulse", "pipewire", "auto":
		// PipeWire exposes the PulseAudio protocol.
		return BackendPulse, nil
	case "alsa":
		return BackendALSA, nil
	case "dshow":
		return BackendDShow, nil
	}
	return "", fmt.Errorf("unknown audio backend: %s", name)
}

// inputDevice returns the ffmpeg -i argument for device on backend.
func (b Backend) inputDevice(device string) string {
	switch b {
	case BackendDShow:
		if strings.HasPrefix(device, "audio=") {
			return device
		}
		return "audio=" + device
	case BackendALSA:
		if device == "" {
			return "default"
		}
	case BackendPulse:
		if device == "" {
			return "@DEFAULT_MONITOR@"
		}
	}
	return device
}

// GetAvailableBackends returns the backends usable on this system.
func GetAvailableBackends() []Backend {
	return []Backend{BackendPulse, BackendALSA, BackendDShow}
}
