package session

import (
	"context"
	"sync"
	"time"
)

// Record binds a license key to the connection that currently owns it.
type Record struct {
	LicenseKey       string    `json:"license_key"`
	ConnectionHandle string    `json:"connection_handle"`
	EstablishedAt    time.Time `json:"established_at"`
}

// Directory is the single source of truth for which connection owns a
// license. Absence is reported through the found/replaced booleans, never
// as an error; errors are reserved for backend failures.
type Directory interface {
	// Put binds licenseKey to handle and returns the record it replaced.
	// Calls for the same key are serialized; calls for different keys are not.
	Put(ctx context.Context, licenseKey, handle string) (previous Record, replaced bool, err error)

	// Remove deletes the record only if it is still bound to handle.
	Remove(ctx context.Context, licenseKey, handle string) (removed bool, err error)

	// Lookup returns the record bound to licenseKey.
	Lookup(ctx context.Context, licenseKey string) (rec Record, found bool, err error)

	// LicenseFor resolves the license a handle is bound to.
	LicenseFor(ctx context.Context, handle string) (licenseKey string, found bool, err error)

	// Count returns the number of bound licenses.
	Count(ctx context.Context) (int, error)
}

// MemoryDirectory is an in-process Directory. Each key is updated with
// Swap/CompareAndDelete on a sync.Map so unrelated keys never contend.
type MemoryDirectory struct {
	records sync.Map // license key -> *Record
	handles sync.Map // connection handle -> license key
	now     func() time.Time
}

// NewMemoryDirectory creates an empty in-memory directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{now: time.Now}
}

// Put implements Directory
func (d *MemoryDirectory) Put(_ context.Context, licenseKey, handle string) (Record, bool, error) {
	rec := &Record{
		LicenseKey:       licenseKey,
		ConnectionHandle: handle,
		EstablishedAt:    d.now(),
	}

	// The reverse entry goes in first so a concurrent LicenseFor never sees a
	// bound record without its handle.
	if old, ok := d.handles.Swap(handle, licenseKey); ok && old.(string) != licenseKey {
		// A handle owns at most one license: drop its binding to the old key.
		if current, ok := d.records.Load(old.(string)); ok && current.(*Record).ConnectionHandle == handle {
			d.records.CompareAndDelete(old.(string), current)
		}
	}

	prev, loaded := d.records.Swap(licenseKey, rec)
	if !loaded {
		return Record{}, false, nil
	}

	previous := *prev.(*Record)
	if previous.ConnectionHandle != handle {
		d.handles.CompareAndDelete(previous.ConnectionHandle, licenseKey)
	}
	return previous, true, nil
}

// Remove implements Directory
func (d *MemoryDirectory) Remove(_ context.Context, licenseKey, handle string) (bool, error) {
	current, ok := d.records.Load(licenseKey)
	if !ok {
		return false, nil
	}
	if current.(*Record).ConnectionHandle != handle {
		return false, nil
	}

	// Pointer comparison: fails if a newer Put swapped the record in between.
	if !d.records.CompareAndDelete(licenseKey, current) {
		return false, nil
	}
	d.handles.CompareAndDelete(handle, licenseKey)
	return true, nil
}

// Lookup implements Directory
func (d *MemoryDirectory) Lookup(_ context.Context, licenseKey string) (Record, bool, error) {
	current, ok := d.records.Load(licenseKey)
	if !ok {
		return Record{}, false, nil
	}
	return *current.(*Record), true, nil
}

// LicenseFor implements Directory
func (d *MemoryDirectory) LicenseFor(_ context.Context, handle string) (string, bool, error) {
	key, ok := d.handles.Load(handle)
	if !ok {
		return "", false, nil
	}
	return key.(string), true, nil
}

// Count implements Directory
func (d *MemoryDirectory) Count(_ context.Context) (int, error) {
	n := 0
	d.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n, nil
}
