package types

import (
	"errors"
	"fmt"
)

// ErrInvalidDevice is returned when a discovery descriptor cannot be parsed.
var ErrInvalidDevice = errors.New("invalid device descriptor")

// Device describes a peer found on the home network. Identity is the UDN.
type Device struct {
	UDN          string
	FriendlyName string
	ModelName    string
	ModelNumber  string
}

// RawDevice is the untyped descriptor reported by the transport.
type RawDevice map[string]interface{}

// Descriptor keys of a RawDevice.
const (
	KeyUDN          = "udn"
	KeyFriendlyName = "friendlyName"
	KeyModelName    = "modelName"
	KeyModelNumber  = "modelNumber"
)

// ParseDevice validates a raw descriptor. The UDN is mandatory; the other
// fields are optional but must be strings when present.
func ParseDevice(raw RawDevice) (Device, error) {
	if raw == nil {
		return Device{}, fmt.Errorf("%w: nil descriptor", ErrInvalidDevice)
	}

	var dev Device
	fields := []struct {
		key string
		dst *string
	}{
		{KeyUDN, &dev.UDN},
		{KeyFriendlyName, &dev.FriendlyName},
		{KeyModelName, &dev.ModelName},
		{KeyModelNumber, &dev.ModelNumber},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Device{}, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidDevice, f.key, v)
		}
		*f.dst = s
	}

	if dev.UDN == "" {
		return Device{}, fmt.Errorf("%w: missing udn", ErrInvalidDevice)
	}
	return dev, nil
}

// Raw converts the device back into a descriptor.
func (d Device) Raw() RawDevice {
	return RawDevice{
		KeyUDN:          d.UDN,
		KeyFriendlyName: d.FriendlyName,
		KeyModelName:    d.ModelName,
		KeyModelNumber:  d.ModelNumber,
	}
}

// Capability is the model signature a recording-capable peer advertises.
type Capability struct {
	ModelName   string `json:"model_name"`
	ModelNumber string `json:"model_number"`
}

// DefaultCapability is the signature of set-top boxes able to share recordings.
var DefaultCapability = Capability{ModelName: "Gateway", ModelNumber: "OpenTV5"}

func (c Capability) Matches(d Device) bool {
	return d.ModelName == c.ModelName && d.ModelNumber == c.ModelNumber
}
