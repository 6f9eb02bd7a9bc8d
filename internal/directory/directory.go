// Package directory resolves application ids to live vendor adapter
// instances and keeps a background-refreshed snapshot of their display
// metadata.
package directory

import (
	"errors"
	"fmt"

	"github.com/tagentic/gateway/internal/vendor"
)

// ErrUnknownApplication reports a lookup for an id that is not
// configured. The HTTP layer maps it to 404.
var ErrUnknownApplication = errors.New("directory: unknown application")

// Definition is one configured application: which vendor serves it and
// the vendor-specific settings blob.
type Definition struct {
	ID       string
	Vendor   string
	Settings vendor.Settings
}

// Instance pairs a configured application with its constructed adapter.
type Instance struct {
	ApplicationID string
	VendorName    string
	Vendor        vendor.Vendor
}

// Directory is the immutable application id → adapter index. It is built
// once at startup; configuration changes require a restart, which keeps
// every lookup a plain map read with no locking.
type Directory struct {
	byID  map[string]Instance
	order []string
}

// New constructs every configured application through the factory
// registry. An unknown vendor name is a configuration mistake and fails
// startup rather than leaving a half-usable gateway.
func New(defs []Definition, factories map[string]vendor.Factory, deps vendor.Deps) (*Directory, error) {
	d := &Directory{byID: make(map[string]Instance, len(defs))}
	for _, def := range defs {
		if def.ID == "" {
			return nil, errors.New("directory: application with empty id")
		}
		if _, dup := d.byID[def.ID]; dup {
			return nil, fmt.Errorf("directory: duplicate application id %q", def.ID)
		}
		factory, ok := factories[def.Vendor]
		if !ok {
			return nil, fmt.Errorf("directory: application %q references unknown vendor %q", def.ID, def.Vendor)
		}
		d.byID[def.ID] = Instance{
			ApplicationID: def.ID,
			VendorName:    def.Vendor,
			Vendor:        factory(def.ID, def.Settings, deps),
		}
		d.order = append(d.order, def.ID)
	}
	return d, nil
}

// Lookup returns the instance serving applicationID.
func (d *Directory) Lookup(applicationID string) (Instance, error) {
	inst, ok := d.byID[applicationID]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %q", ErrUnknownApplication, applicationID)
	}
	return inst, nil
}

// Instances returns every configured instance in configuration order.
func (d *Directory) Instances() []Instance {
	out := make([]Instance, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}
