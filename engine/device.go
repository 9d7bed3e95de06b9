package engine

import (
	"fmt"
	"strconv"
	"strings"
)

type DeviceKind int

const (
	CPU DeviceKind = iota
	CUDA
	DML
)

func (k DeviceKind) String() string {
	switch k {
	case CUDA:
		return "cuda"
	case DML:
		return "dml"
	default:
		return "cpu"
	}
}

// Device is an execution target such as "cpu", "cuda:1" or "dml".
type Device struct {
	Kind DeviceKind
	ID   int
}

func ParseDevice(s string) (Device, error) {
	name, idStr, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	var d Device
	switch name {
	case "cpu":
		if hasID {
			return Device{}, fmt.Errorf("device %q: cpu takes no index", s)
		}
		return Device{Kind: CPU}, nil
	case "cuda", "gpu":
		d.Kind = CUDA
	case "dml", "directml":
		d.Kind = DML
	default:
		return Device{}, fmt.Errorf("unsupported device %q", s)
	}
	if hasID {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 {
			return Device{}, fmt.Errorf("device %q: invalid index %q", s, idStr)
		}
		d.ID = id
	}
	return d, nil
}

func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.ID)
}
