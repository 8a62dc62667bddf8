package secrets

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Provisioner issues credentials and hands back existing ones so a host that
// is already configured keeps its client configuration across runs.
type Provisioner struct {
	store  Store
	random io.Reader
	now    func() time.Time

	mu     sync.Mutex
	issued []string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithRandom sets the entropy source.
func WithRandom(r io.Reader) Option {
	return func(p *Provisioner) { p.random = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// NewProvisioner creates a Provisioner backed by store.
func NewProvisioner(store Store, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:  store,
		random: defaultRandom,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Issue generates and stores a new credential for stepName.
func (p *Provisioner) Issue(stepName string, kind Kind) (Credential, error) {
	return p.issue(stepName, kind, false)
}

func (p *Provisioner) issue(stepName string, kind Kind, pending bool) (Credential, error) {
	value, err := newValue(kind, p.random)
	if err != nil {
		return Credential{}, err
	}
	id, err := NewClientID(p.random)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{
		ID:         id,
		Kind:       kind,
		CreatedFor: stepName,
		Value:      value,
		CreatedAt:  p.now().UTC(),
		Pending:    pending,
	}
	if err := p.store.Put(cred); err != nil {
		return Credential{}, fmt.Errorf("store credential for %s: %w", stepName, err)
	}

	p.mu.Lock()
	p.issued = append(p.issued, stepName)
	p.mu.Unlock()
	return cred, nil
}

// Lookup returns the stored credential for stepName without issuing one.
func (p *Provisioner) Lookup(stepName string) (Credential, bool, error) {
	return p.store.Get(stepName)
}

// Ensure returns the credential a step should use. existing is the value read
// back from the step's rendered artifact, if any; it wins over the store so
// the file on the host stays authoritative, except over a pending rotation,
// which is rolled out and cleared here. A new credential is issued only when
// neither source has one.
func (p *Provisioner) Ensure(stepName string, kind Kind, existing string) (Credential, error) {
	stored, ok, err := p.store.Get(stepName)
	if err != nil {
		return Credential{}, err
	}

	if ok && stored.Pending {
		stored.Pending = false
		if err := p.store.Put(stored); err != nil {
			return Credential{}, fmt.Errorf("store credential for %s: %w", stepName, err)
		}
		return stored, nil
	}

	if existing != "" {
		if ok && stored.Value == existing {
			return stored, nil
		}
		id, err := NewClientID(p.random)
		if err != nil {
			return Credential{}, err
		}
		cred := Credential{ID: id, Kind: kind, CreatedFor: stepName, Value: existing, CreatedAt: p.now().UTC()}
		if err := p.store.Put(cred); err != nil {
			return Credential{}, fmt.Errorf("store credential for %s: %w", stepName, err)
		}
		return cred, nil
	}

	if ok && !stored.IsZero() {
		return stored, nil
	}
	return p.Issue(stepName, kind)
}

// Rotate replaces the credential for stepName with a fresh one of the same
// kind. The new value is pending until the step's next apply uses it.
func (p *Provisioner) Rotate(stepName string) (Credential, error) {
	stored, ok, err := p.store.Get(stepName)
	if err != nil {
		return Credential{}, err
	}
	if !ok {
		return Credential{}, fmt.Errorf("no credential recorded for %s", stepName)
	}
	return p.issue(stepName, stored.Kind, true)
}

// Pending reports whether stepName has a rotated credential not yet applied.
func (p *Provisioner) Pending(stepName string) (bool, error) {
	stored, ok, err := p.store.Get(stepName)
	if err != nil {
		return false, err
	}
	return ok && stored.Pending, nil
}

// List returns every stored credential.
func (p *Provisioner) List() ([]Credential, error) {
	return p.store.List()
}

// Issued returns the steps that received a new credential from this provisioner.
func (p *Provisioner) Issued() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.issued...)
}
