package vconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Bytes parses, marshals, and stringifies byte quantities with optional
// Ki/Mi/Gi suffixes, the same text/JSON round-trip shape VCFG's own Bytes
// type gives disk and RAM sizes.
type Bytes int64

// Common byte constants.
const (
	Byte Bytes = 1
	KiB  Bytes = 1024 * Byte
	MiB  Bytes = 1024 * KiB
	GiB  Bytes = 1024 * MiB
)

func (b Bytes) String() string {
	switch {
	case b == 0:
		return ""
	case b%GiB == 0:
		return fmt.Sprintf("%d Gi", b/GiB)
	case b%MiB == 0:
		return fmt.Sprintf("%d Mi", b/MiB)
	case b%KiB == 0:
		return fmt.Sprintf("%d Ki", b/KiB)
	default:
		return fmt.Sprintf("%d", int64(b))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes) UnmarshalText(text []byte) error {
	v, err := ParseBytes(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), "\"")
	v, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBytes resolves a string like "512Mi" or "4096" into Bytes.
func ParseBytes(s string) (Bytes, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	lower := strings.ToLower(s)

	var unit Bytes = Byte
	var suffix string
	for sfx, u := range map[string]Bytes{"gi": GiB, "g": GiB, "mi": MiB, "m": MiB, "ki": KiB, "k": KiB} {
		if strings.HasSuffix(lower, sfx) && len(sfx) > len(suffix) {
			suffix, unit = sfx, u
		}
	}

	numeric := strings.TrimSpace(lower[:len(lower)-len(suffix)])
	n, err := strconv.ParseInt(numeric, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %v", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parsing %q: negative byte quantity", s)
	}
	return Bytes(n) * unit, nil
}

// LogLevel names the verbosity tier forwarded to the elog logger.
type LogLevel string

// Supported log levels.
const (
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
	LogTrace LogLevel = "trace"
)

var validLogLevels = map[LogLevel]bool{
	LogError: true, LogWarn: true, LogInfo: true, LogDebug: true, LogTrace: true,
}

// Validate reports whether l is one of the supported levels.
func (l LogLevel) Validate() error {
	if l == "" || validLogLevels[l] {
		return nil
	}
	return fmt.Errorf("unsupported log level %q", l)
}
