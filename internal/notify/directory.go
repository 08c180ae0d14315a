package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"riskflow/backend/internal/logging"
)

// ErrUnknownRole is returned when no address is configured for a role.
var ErrUnknownRole = errors.New("no contact configured for role")

// Contacts is the role to address mapping, with per-organization overrides.
type Contacts struct {
	Default map[string]string            `yaml:"default"`
	Orgs    map[string]map[string]string `yaml:"orgs"`
}

func (c *Contacts) lookup(orgID, role string) (string, bool) {
	if addr, ok := c.Orgs[orgID][role]; ok && addr != "" {
		return addr, true
	}
	addr, ok := c.Default[role]
	return addr, ok && addr != ""
}

// merge returns a copy of c with other's entries layered on top.
func (c Contacts) merge(other Contacts) Contacts {
	out := Contacts{
		Default: make(map[string]string, len(c.Default)+len(other.Default)),
		Orgs:    make(map[string]map[string]string, len(c.Orgs)+len(other.Orgs)),
	}
	for k, v := range c.Default {
		out.Default[k] = v
	}
	for k, v := range other.Default {
		out.Default[k] = v
	}
	for _, src := range []map[string]map[string]string{c.Orgs, other.Orgs} {
		for org, roles := range src {
			if out.Orgs[org] == nil {
				out.Orgs[org] = make(map[string]string, len(roles))
			}
			for k, v := range roles {
				out.Orgs[org][k] = v
			}
		}
	}
	return out
}

// StaticDirectory resolves roles from a fixed mapping.
type StaticDirectory struct {
	contacts Contacts
}

// NewStaticDirectory creates a directory from an in-memory mapping.
func NewStaticDirectory(contacts Contacts) *StaticDirectory {
	return &StaticDirectory{contacts: contacts}
}

// Lookup returns the address for role, preferring the org's override.
func (d *StaticDirectory) Lookup(_ context.Context, orgID, role string) (string, error) {
	if addr, ok := d.contacts.lookup(orgID, role); ok {
		return addr, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
}

// FileDirectory resolves roles from a YAML file and reloads it when the file
// changes. Entries from the file override the base mapping.
type FileDirectory struct {
	path     string
	base     Contacts
	contacts atomic.Pointer[Contacts]
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// NewFileDirectory loads path and returns a directory over it.
func NewFileDirectory(path string, base Contacts, logger *logging.Logger) (*FileDirectory, error) {
	d := &FileDirectory{path: path, base: base, logger: logger}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup returns the address for role, preferring the org's override.
func (d *FileDirectory) Lookup(_ context.Context, orgID, role string) (string, error) {
	if addr, ok := d.contacts.Load().lookup(orgID, role); ok {
		return addr, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
}

func (d *FileDirectory) reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading contacts file: %w", err)
	}
	var fromFile Contacts
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("decoding contacts file: %w", err)
	}
	merged := d.base.merge(fromFile)
	d.contacts.Store(&merged)
	return nil
}

// Watch reloads the file on change until ctx is done. The parent directory
// is watched because editors usually replace files instead of writing them
// in place. A file that fails to parse leaves the previous mapping active.
// Use Wait to join the watcher after cancelling ctx.
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching contacts file: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer watcher.Close()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := d.reload(); err != nil {
					d.logger.Warn("contacts reload failed", "path", d.path, "error", err)
					continue
				}
				d.logger.Info("contacts reloaded", "path", d.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("contacts watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Wait blocks until watchers started by Watch have stopped.
func (d *FileDirectory) Wait() {
	d.wg.Wait()
}
