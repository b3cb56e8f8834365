// Package deed is the custody registry for tokenized property deeds.
//
// It follows ERC-721 transfer rules: a deed has one owner and at most one
// approved operator, only the owner may approve, and a transfer may be
// executed by the owner or the approved operator. Approval is cleared on
// every transfer.
//
// A Custodian may undo its own most recent transfer of a deed through a
// one-shot reversal grant, which lives only until it is used or released.
package deed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/propertyescrow/internal/syncutil"
)

var (
	ErrDeedNotFound = errors.New("deed not found")
	ErrNotOwner     = errors.New("not the deed owner")
	ErrNotApproved  = errors.New("operator not approved for deed")
	ErrInvalidOwner = errors.New("invalid owner address")
)

// Deed is a single tokenized property.
type Deed struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	TokenURI      string    `json:"tokenUri"`
	Approved      string    `json:"approved,omitempty"`
	PreviousOwner string    `json:"previousOwner,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists deeds. Create assigns the next sequential ID.
type Store interface {
	Create(ctx context.Context, d *Deed) error
	Get(ctx context.Context, id string) (*Deed, error)
	Update(ctx context.Context, d *Deed) error
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Deed, error)
}

// Registry coordinates mint, approval and custody changes.
type Registry struct {
	store Store
	locks *syncutil.ContextShardedMutex

	mu     sync.Mutex
	grants map[string]reversal // deed ID -> outstanding undo
}

// reversal lets operator move a deed back from holder to itself once.
type reversal struct {
	operator string
	holder   string
}

// NewRegistry creates a deed registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		locks:  syncutil.NewContextShardedMutex(),
		grants: make(map[string]reversal),
	}
}

// Mint issues a new deed owned by owner.
func (r *Registry) Mint(ctx context.Context, owner, tokenURI string) (*Deed, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	now := time.Now()
	d := &Deed{
		Owner:     owner,
		TokenURI:  tokenURI,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("mint deed: %w", err)
	}
	return d, nil
}

// Get returns a deed by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Deed, error) {
	return r.store.Get(ctx, id)
}

// CustodianOf returns the current owner of a deed.
func (r *Registry) CustodianOf(ctx context.Context, id string) (string, error) {
	d, err := r.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Owner, nil
}

// ListByOwner returns deeds currently held by owner.
func (r *Registry) ListByOwner(ctx context.Context, owner string, limit int) ([]*Deed, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.store.ListByOwner(ctx, strings.ToLower(owner), limit)
}

// Approve lets operator move the deed once. Only the owner may approve;
// an empty operator clears the approval.
func (r *Registry) Approve(ctx context.Context, caller, id, operator string) (*Deed, error) {
	unlock, err := r.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(d.Owner, caller) {
		return nil, ErrNotOwner
	}
	d.Approved = strings.ToLower(operator)
	d.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("approve deed %s: %w", id, err)
	}
	return d, nil
}

// TransferFrom moves a deed from -> to on behalf of operator, which must be
// the owner or the approved address.
func (r *Registry) TransferFrom(ctx context.Context, operator, id, from, to string) error {
	return r.transfer(ctx, operator, id, from, to, false)
}

// transfer moves the deed and, when grant is set and operator gave up its
// own custody, opens a reversal for that one transfer. Any older grant on
// the deed is closed.
func (r *Registry) transfer(ctx context.Context, operator, id, from, to string, grant bool) error {
	operator = strings.ToLower(operator)
	from = strings.ToLower(from)
	to = strings.ToLower(to)
	if to == "" {
		return ErrInvalidOwner
	}

	unlock, err := r.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Owner != from {
		return fmt.Errorf("%w: deed %s is held by %s", ErrNotOwner, id, d.Owner)
	}
	if operator != d.Owner && operator != d.Approved {
		return fmt.Errorf("%w: %s on deed %s", ErrNotApproved, operator, id)
	}
	if err := r.move(ctx, d, to); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.grants, id)
	if grant && from == operator {
		r.grants[id] = reversal{operator: operator, holder: to}
	}
	r.mu.Unlock()
	return nil
}

// Revert undoes operator's outstanding transfer of deed id to holder,
// returning the deed to operator. It fails with ErrNotApproved unless a
// grant for exactly that transfer is still open; the grant is consumed.
func (r *Registry) Revert(ctx context.Context, operator, id, holder string) error {
	operator = strings.ToLower(operator)
	holder = strings.ToLower(holder)

	unlock, err := r.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.Lock()
	g, ok := r.grants[id]
	r.mu.Unlock()
	if !ok || g.operator != operator || g.holder != holder {
		return fmt.Errorf("%w: no open reversal for %s on deed %s", ErrNotApproved, operator, id)
	}

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Owner != holder {
		return fmt.Errorf("%w: deed %s is held by %s", ErrNotOwner, id, d.Owner)
	}
	if err := r.move(ctx, d, operator); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.grants, id)
	r.mu.Unlock()
	return nil
}

// Release closes operator's open reversal grant on deed id, if any.
func (r *Registry) Release(operator, id string) {
	operator = strings.ToLower(operator)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.grants[id]; ok && g.operator == operator {
		delete(r.grants, id)
	}
}

// move writes a custody change. Callers hold the deed lock.
func (r *Registry) move(ctx context.Context, d *Deed, to string) error {
	d.PreviousOwner = d.Owner
	d.Owner = to
	d.Approved = ""
	d.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, d); err != nil {
		return fmt.Errorf("transfer deed %s: %w", d.ID, err)
	}
	return nil
}

// Operator binds the registry to a fixed operator identity, giving the
// escrow ledger the narrow custody interface it consumes.
func (r *Registry) Operator(addr string) *Custodian {
	return &Custodian{registry: r, operator: strings.ToLower(addr)}
}

// Custodian is a registry view that transfers as one operator.
type Custodian struct {
	registry *Registry
	operator string
}

// TransferCustody moves deed id from -> to as the bound operator.
// Handing over a deed it holds opens a reversal grant for RevertCustody.
func (c *Custodian) TransferCustody(ctx context.Context, id, from, to string) error {
	return c.registry.transfer(ctx, c.operator, id, from, to, true)
}

// RevertCustody undoes the bound operator's last transfer of deed id to
// holder.
func (c *Custodian) RevertCustody(ctx context.Context, id, holder string) error {
	return c.registry.Revert(ctx, c.operator, id, holder)
}

// ReleaseCustody drops the bound operator's reversal grant on deed id.
func (c *Custodian) ReleaseCustody(id string) {
	c.registry.Release(c.operator, id)
}

// CustodianOf returns the current owner of a deed.
func (c *Custodian) CustodianOf(ctx context.Context, id string) (string, error) {
	return c.registry.CustodianOf(ctx, id)
}
