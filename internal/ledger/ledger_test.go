package ledger

import (
	"testing"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/local"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
)

func newTestLedger(t *testing.T, companyID string) *Ledger {
	t.Helper()
	b, err := local.New("", 0)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return New(store.New(b, store.Options{}), companyID)
}

func TestSaleLifecycle(t *testing.T) {
	l := newTestLedger(t, "BSR001")

	sale, ok := l.AddSale(Sale{ClientName: "شركة النور", Amount: 1000, Paid: 400, Date: "2026-03-10"})
	if !ok {
		t.Fatal("AddSale failed")
	}
	if sale.ID == "" || sale.Remaining != 600 {
		t.Errorf("sale = %+v, want ID set and remaining 600", sale)
	}

	sales := l.Sales()
	if len(sales) != 1 {
		t.Fatalf("Sales() = %d entries, want 1", len(sales))
	}

	sale.Paid = 1000
	if !l.UpdateSale(sale) {
		t.Fatal("UpdateSale failed")
	}
	if got := l.Sales()[0]; got.Remaining != 0 {
		t.Errorf("remaining after full payment = %v, want 0", got.Remaining)
	}

	if !l.DeleteSale(sale.ID) {
		t.Fatal("DeleteSale failed")
	}
	if len(l.Sales()) != 0 {
		t.Error("sale survived deletion")
	}
	if l.DeleteSale("missing") {
		t.Error("DeleteSale reported success for a missing ID")
	}
}

func TestSaleAdjustsClientBalance(t *testing.T) {
	l := newTestLedger(t, "BSR001")

	sale, _ := l.AddSale(Sale{ClientName: "عميل أ", Amount: 500, Paid: 100})
	balances := l.ClientBalances()
	if len(balances) != 1 || balances[0].Balance != 400 {
		t.Fatalf("balances = %+v, want one entry of 400", balances)
	}

	// Paying the rest brings the balance back to zero.
	sale.Paid = 500
	l.UpdateSale(sale)
	if got := l.ClientBalances()[0].Balance; got != 0 {
		t.Errorf("balance after settlement = %v, want 0", got)
	}
}

func TestCompanyIsolation(t *testing.T) {
	b, err := local.New("", 0)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	st := store.New(b, store.Options{})

	first := New(st, "BSR001")
	second := New(st, "BSR002")

	first.AddSale(Sale{ClientName: "c", Amount: 10})
	if len(second.Sales()) != 0 {
		t.Error("sales leaked across companies")
	}
}

func TestStaffAndAdvances(t *testing.T) {
	l := newTestLedger(t, "BSR001")

	member, ok := l.AddStaff(StaffMember{Name: "سعيد", Salary: 3000})
	if !ok || member.ID == "" {
		t.Fatalf("AddStaff: %+v ok=%v", member, ok)
	}

	adv, ok := l.AddAdvance(Advance{StaffID: member.ID, Amount: 500, Date: "2026-03-10"})
	if !ok {
		t.Fatal("AddAdvance failed")
	}
	if !l.MarkAdvanceRepaid(adv.ID) {
		t.Fatal("MarkAdvanceRepaid failed")
	}
	if !l.Advances()[0].Repaid {
		t.Error("advance not marked repaid")
	}

	if !l.DeleteAdvance(adv.ID) || len(l.Advances()) != 0 {
		t.Error("advance not deleted")
	}
	if !l.DeleteStaff(member.ID) || len(l.Staff()) != 0 {
		t.Error("staff member not deleted")
	}
}

func TestTreasuryBalance(t *testing.T) {
	l := newTestLedger(t, "BSR001")

	l.AddTreasuryEntry(TreasuryEntry{Type: TreasuryDeposit, Amount: 1000})
	l.AddTreasuryEntry(TreasuryEntry{Type: TreasuryWithdrawal, Amount: 250, Reason: "مشتريات"})
	l.AddTreasuryEntry(TreasuryEntry{Type: TreasuryDeposit, Amount: 100})

	if got := l.TreasuryBalance(); got != 850 {
		t.Errorf("TreasuryBalance = %v, want 850", got)
	}

	if _, ok := l.AddTreasuryEntry(TreasuryEntry{Type: "transfer", Amount: 10}); ok {
		t.Error("unknown treasury entry type accepted")
	}
}
