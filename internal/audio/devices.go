package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// Source is an audio capture device as reported by the sound server
type Source struct {
	Index     string
	Name      string
	Driver    string
	Format    string
	State     string
	IsMonitor bool
}

// ListSources returns the capture devices known to PulseAudio/PipeWire.
// Monitor sources capture what the system is playing.
func ListSources() ([]Source, error) {
	cmd := exec.Command("pactl", "list", "short", "sources")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio sources: %w", err)
	}
	return parseSources(string(output)), nil
}

// parseSources parses `pactl list short sources` output, one tab
// separated line per source: index, name, driver, sample spec, state.
func parseSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}

		src := Source{Index: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			src.Driver = fields[2]
		}
		if len(fields) > 3 {
			src.Format = fields[3]
		}
		if len(fields) > 4 {
			src.State = fields[4]
		}
		src.IsMonitor = strings.HasSuffix(src.Name, ".monitor")
		sources = append(sources, src)
	}
	return sources
}

// ValidateSource checks that device is a known capture source. Server
// aliases like @DEFAULT_MONITOR@ are always accepted.
func ValidateSource(backend Backend, device string) error {
	if backend != BackendPulse || isAlias(device) {
		return nil
	}

	sources, err := ListSources()
	if err != nil {
		return err
	}
	return validateInList(device, sources)
}

func validateInList(device string, sources []Source) error {
	if isAlias(device) {
		return nil
	}
	for _, s := range sources {
		if s.Name == device || s.Index == device {
			return nil
		}
	}
	return fmt.Errorf("audio source not found: %s", device)
}

func isAlias(device string) bool {
	return device == "" || device == "default" || (strings.HasPrefix(device, "@") && strings.HasSuffix(device, "@"))
}
