package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/mbd888/propertyescrow/internal/amount"
	"github.com/mbd888/propertyescrow/internal/idgen"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		deposits: make(map[string]bool),
	}
}

func zeroBalance(addr string) *Balance {
	return &Balance{
		Address:   addr,
		Available: amount.Format(nil),
		Escrowed:  amount.Format(nil),
		TotalIn:   amount.Format(nil),
		TotalOut:  amount.Format(nil),
		UpdatedAt: time.Now(),
	}
}

// account returns the balance row for addr, creating it when create is set.
// Callers hold m.mu.
func (m *MemoryStore) account(addr string, create bool) (*Balance, bool) {
	bal, ok := m.balances[addr]
	if !ok && create {
		bal = zeroBalance(addr)
		m.balances[addr] = bal
		ok = true
	}
	return bal, ok
}

func (m *MemoryStore) record(e *Entry) {
	e.ID = idgen.WithPrefix("ent_")
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
}

func parse(s string) *big.Int {
	v, ok := amount.Parse(s)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func (m *MemoryStore) GetBalance(_ context.Context, addr string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[addr]; ok {
		cp := *bal
		return &cp, nil
	}
	return zeroBalance(addr), nil
}

func (m *MemoryStore) Credit(_ context.Context, addr, amt, txHash, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txHash != "" && m.deposits[txHash] {
		return ErrDuplicateDeposit
	}

	bal, _ := m.account(addr, true)
	add := parse(amt)
	bal.Available = amount.Format(new(big.Int).Add(parse(bal.Available), add))
	bal.TotalIn = amount.Format(new(big.Int).Add(parse(bal.TotalIn), add))
	bal.UpdatedAt = time.Now()

	m.record(&Entry{
		Address:     addr,
		Type:        EntryDeposit,
		Amount:      amt,
		TxHash:      txHash,
		Description: description,
	})
	if txHash != "" {
		m.deposits[txHash] = true
	}
	return nil
}

func (m *MemoryStore) EscrowLock(_ context.Context, addr, amt, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.account(addr, false)
	if !ok {
		return ErrAccountNotFound
	}

	avail := parse(bal.Available)
	sub := parse(amt)
	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	bal.Available = amount.Format(avail.Sub(avail, sub))
	bal.Escrowed = amount.Format(new(big.Int).Add(parse(bal.Escrowed), sub))
	bal.UpdatedAt = time.Now()

	m.record(&Entry{
		Address:     addr,
		Type:        EntryEscrowLock,
		Amount:      amt,
		Reference:   reference,
		Description: "escrow_locked",
	})
	return nil
}

func (m *MemoryStore) ReleaseEscrow(_ context.Context, from, to, amt, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payer, ok := m.account(from, false)
	if !ok {
		return ErrAccountNotFound
	}

	escrowed := parse(payer.Escrowed)
	sub := parse(amt)
	if escrowed.Cmp(sub) < 0 {
		return ErrInsufficientEscrow
	}

	payer.Escrowed = amount.Format(escrowed.Sub(escrowed, sub))
	payer.TotalOut = amount.Format(new(big.Int).Add(parse(payer.TotalOut), sub))
	payer.UpdatedAt = time.Now()

	payee, _ := m.account(to, true)
	payee.Available = amount.Format(new(big.Int).Add(parse(payee.Available), sub))
	payee.TotalIn = amount.Format(new(big.Int).Add(parse(payee.TotalIn), sub))
	payee.UpdatedAt = time.Now()

	m.record(&Entry{
		Address:      from,
		Type:         EntryEscrowRelease,
		Amount:       amt,
		Counterparty: to,
		Reference:    reference,
		Description:  "escrow_released_to_seller",
	})
	m.record(&Entry{
		Address:      to,
		Type:         EntryEscrowReceive,
		Amount:       amt,
		Counterparty: from,
		Reference:    reference,
		Description:  "escrow_payment_received",
	})
	return nil
}

func (m *MemoryStore) RefundEscrow(_ context.Context, addr, amt, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.account(addr, false)
	if !ok {
		return ErrAccountNotFound
	}

	escrowed := parse(bal.Escrowed)
	sub := parse(amt)
	if escrowed.Cmp(sub) < 0 {
		return ErrInsufficientEscrow
	}

	bal.Escrowed = amount.Format(escrowed.Sub(escrowed, sub))
	bal.Available = amount.Format(new(big.Int).Add(parse(bal.Available), sub))
	bal.UpdatedAt = time.Now()

	m.record(&Entry{
		Address:     addr,
		Type:        EntryEscrowRefund,
		Amount:      amt,
		Reference:   reference,
		Description: "escrow_refunded",
	})
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, addr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Address == addr {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(_ context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[txHash], nil
}
