package device

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/agwidera/meca/internal/monitoring"
)

// Roster owns the open instruments of one application instance, keyed by handle.
// It is not safe for concurrent modification; lookups may run concurrently.
type Roster struct {
	handles []string
	devices map[string]Device
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{devices: make(map[string]Device)}
}

// Add registers d under handle.
func (r *Roster) Add(handle string, d Device) error {
	if _, ok := r.devices[handle]; ok {
		return fmt.Errorf("device handle %q already in use", handle)
	}
	r.handles = append(r.handles, handle)
	r.devices[handle] = d
	return nil
}

// Get returns the device registered under handle.
func (r *Roster) Get(handle string) (Device, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no device %q", ErrDevice, handle)
	}
	d, ok := r.devices[handle]
	if !ok {
		return nil, fmt.Errorf("%w: no device %q", ErrDevice, handle)
	}
	return d, nil
}

// Handles returns the registered handles in the order they were added.
func (r *Roster) Handles() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.handles...)
}

// Len returns the number of devices.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handles)
}

// Describe returns one "handle: name at address" line per device, sorted by handle.
func (r *Roster) Describe() []string {
	handles := r.Handles()
	sort.Strings(handles)
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		d := r.devices[h]
		out = append(out, fmt.Sprintf("%s: %s at %s", h, d.Name(), d.Address()))
	}
	return out
}

// ResetAll returns every device to a known state. With soft set, devices that
// implement SoftResetter are soft reset and the rest fully reset. Every device
// is attempted; failures are combined.
func (r *Roster) ResetAll(soft bool) error {
	var err error
	for _, h := range r.Handles() {
		d := r.devices[h]
		if sr, ok := d.(SoftResetter); ok && soft {
			err = multierr.Append(err, sr.SoftReset())
			continue
		}
		err = multierr.Append(err, d.Reset())
	}
	return err
}

// CloseAll closes every device, combining failures.
func (r *Roster) CloseAll() error {
	var err error
	for _, h := range r.Handles() {
		err = multierr.Append(err, r.devices[h].Close())
	}
	return err
}

// Open connects to every configured instrument. If any fails, the ones
// already opened are closed again.
func Open(ctx context.Context, cfgs []Config) (*Roster, error) {
	r := NewRoster()
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, multierr.Append(err, r.CloseAll())
		}
		d, err := open(ctx, c)
		if err != nil {
			return nil, multierr.Append(err, r.CloseAll())
		}
		if err := r.Add(c.Handle, d); err != nil {
			err = multierr.Append(err, d.Close())
			return nil, multierr.Append(err, r.CloseAll())
		}
		monitoring.Logf("%s: connected at %s", d.Name(), d.Address())
	}
	return r, nil
}

func open(ctx context.Context, c Config) (Device, error) {
	switch c.Kind {
	case KindSerial:
		d, err := OpenSerial(c.GetName(), c.Address, c.Port, c.scpiOptions()...)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindTCP:
		d, err := DialTCP(ctx, c.GetName(), c.Address, c.GetTimeout(), c.scpiOptions()...)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindSimulated:
		addr := c.Address
		if addr == "" {
			addr = "sim://" + c.Handle
		}
		d, err := NewSimulatedModel(c.GetName(), addr, c.Settings["model"])
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("device %s: unknown kind %q", c.Handle, c.Kind)
	}
}
