// Package ledger holds the business records: sales, staff, salary
// advances, treasury movements and client balances. Every collection is
// scoped to a company and persists as a slice in the key-value store,
// so all durability, integrity and encryption behavior comes from the
// store layer.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
)

type Sale struct {
	ID         string  `json:"id"`
	ClientName string  `json:"client_name"`
	Amount     float64 `json:"amount"`
	Paid       float64 `json:"paid"`
	Remaining  float64 `json:"remaining"`
	Notes      string  `json:"notes,omitempty"`
	Date       string  `json:"date"`
	CreatedAt  int64   `json:"created_at"`
}

type StaffMember struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Phone    string  `json:"phone,omitempty"`
	Salary   float64 `json:"salary"`
	JoinedAt int64   `json:"joined_at"`
}

type Advance struct {
	ID        string  `json:"id"`
	StaffID   string  `json:"staff_id"`
	Amount    float64 `json:"amount"`
	Repaid    bool    `json:"repaid"`
	Date      string  `json:"date"`
	CreatedAt int64   `json:"created_at"`
}

// Treasury entry types.
const (
	TreasuryDeposit    = "deposit"
	TreasuryWithdrawal = "withdrawal"
)

type TreasuryEntry struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	Date      string  `json:"date"`
	CreatedAt int64   `json:"created_at"`
}

type ClientBalance struct {
	ClientName string  `json:"client_name"`
	Balance    float64 `json:"balance"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Ledger is a company-scoped view over the store. Two Ledgers with
// different company IDs never see each other's records.
type Ledger struct {
	store     *store.Store
	companyID string
	now       func() time.Time
}

func New(st *store.Store, companyID string) *Ledger {
	return &Ledger{
		store:     st,
		companyID: companyID,
		now:       time.Now,
	}
}

func (l *Ledger) key(collection string) string {
	return fmt.Sprintf("%s_%s", collection, l.companyID)
}

// Sales

func (l *Ledger) Sales() []Sale {
	var sales []Sale
	l.store.Get(l.key("sales"), &sales)
	return sales
}

func (l *Ledger) AddSale(sale Sale) (Sale, bool) {
	sale.ID = uuid.New().String()
	sale.CreatedAt = l.now().UnixMilli()
	sale.Remaining = sale.Amount - sale.Paid

	sales := append(l.Sales(), sale)
	if !l.store.Set(l.key("sales"), sales) {
		return Sale{}, false
	}
	if sale.Remaining != 0 && sale.ClientName != "" {
		l.adjustClientBalance(sale.ClientName, sale.Remaining)
	}
	return sale, true
}

func (l *Ledger) UpdateSale(updated Sale) bool {
	sales := l.Sales()
	for i, s := range sales {
		if s.ID != updated.ID {
			continue
		}
		updated.CreatedAt = s.CreatedAt
		updated.Remaining = updated.Amount - updated.Paid
		sales[i] = updated
		if !l.store.Set(l.key("sales"), sales) {
			return false
		}
		if updated.ClientName != "" {
			l.adjustClientBalance(updated.ClientName, updated.Remaining-s.Remaining)
		}
		return true
	}
	return false
}

func (l *Ledger) DeleteSale(id string) bool {
	sales := l.Sales()
	for i, s := range sales {
		if s.ID != id {
			continue
		}
		sales = append(sales[:i], sales[i+1:]...)
		if !l.store.Set(l.key("sales"), sales) {
			return false
		}
		if s.ClientName != "" && s.Remaining != 0 {
			l.adjustClientBalance(s.ClientName, -s.Remaining)
		}
		return true
	}
	return false
}

// Staff

func (l *Ledger) Staff() []StaffMember {
	var staff []StaffMember
	l.store.Get(l.key("staff"), &staff)
	return staff
}

func (l *Ledger) AddStaff(member StaffMember) (StaffMember, bool) {
	member.ID = uuid.New().String()
	member.JoinedAt = l.now().UnixMilli()
	if !l.store.Set(l.key("staff"), append(l.Staff(), member)) {
		return StaffMember{}, false
	}
	return member, true
}

func (l *Ledger) DeleteStaff(id string) bool {
	staff := l.Staff()
	for i, s := range staff {
		if s.ID == id {
			staff = append(staff[:i], staff[i+1:]...)
			return l.store.Set(l.key("staff"), staff)
		}
	}
	return false
}

// Advances

func (l *Ledger) Advances() []Advance {
	var advances []Advance
	l.store.Get(l.key("advances"), &advances)
	return advances
}

func (l *Ledger) AddAdvance(adv Advance) (Advance, bool) {
	adv.ID = uuid.New().String()
	adv.CreatedAt = l.now().UnixMilli()
	if !l.store.Set(l.key("advances"), append(l.Advances(), adv)) {
		return Advance{}, false
	}
	return adv, true
}

// MarkAdvanceRepaid flips the repaid flag on an advance.
func (l *Ledger) MarkAdvanceRepaid(id string) bool {
	advances := l.Advances()
	for i, a := range advances {
		if a.ID == id {
			advances[i].Repaid = true
			return l.store.Set(l.key("advances"), advances)
		}
	}
	return false
}

func (l *Ledger) DeleteAdvance(id string) bool {
	advances := l.Advances()
	for i, a := range advances {
		if a.ID == id {
			advances = append(advances[:i], advances[i+1:]...)
			return l.store.Set(l.key("advances"), advances)
		}
	}
	return false
}

// Treasury

func (l *Ledger) Treasury() []TreasuryEntry {
	var entries []TreasuryEntry
	l.store.Get(l.key("treasury"), &entries)
	return entries
}

func (l *Ledger) AddTreasuryEntry(entry TreasuryEntry) (TreasuryEntry, bool) {
	if entry.Type != TreasuryDeposit && entry.Type != TreasuryWithdrawal {
		return TreasuryEntry{}, false
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = l.now().UnixMilli()
	if !l.store.Set(l.key("treasury"), append(l.Treasury(), entry)) {
		return TreasuryEntry{}, false
	}
	return entry, true
}

// TreasuryBalance folds the movement history into a current balance.
func (l *Ledger) TreasuryBalance() float64 {
	var balance float64
	for _, e := range l.Treasury() {
		switch e.Type {
		case TreasuryDeposit:
			balance += e.Amount
		case TreasuryWithdrawal:
			balance -= e.Amount
		}
	}
	return balance
}

// Client balances

func (l *Ledger) ClientBalances() []ClientBalance {
	var balances []ClientBalance
	l.store.Get(l.key("client_balances"), &balances)
	return balances
}

// adjustClientBalance upserts a client's outstanding balance by delta.
func (l *Ledger) adjustClientBalance(clientName string, delta float64) {
	balances := l.ClientBalances()
	for i, b := range balances {
		if b.ClientName == clientName {
			balances[i].Balance += delta
			balances[i].UpdatedAt = l.now().UnixMilli()
			l.store.Set(l.key("client_balances"), balances)
			return
		}
	}
	balances = append(balances, ClientBalance{
		ClientName: clientName,
		Balance:    delta,
		UpdatedAt:  l.now().UnixMilli(),
	})
	l.store.Set(l.key("client_balances"), balances)
}

// SetClock overrides the time source, for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}
