package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/nimburion/batchsync/pkg/ledger"
)

func TestMasterFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  ledger.MasterFilter
		wantErr bool
	}{
		{name: "contract and type", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport}},
		{name: "by id", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Ref: ledger.ByID(3)}},
		{name: "by unique identifier", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeExport, Ref: ledger.ByUniqueIdentifier("task")}},
		{name: "paged", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Page: &ledger.Page{Limit: 10, Offset: 20}, Order: ledger.OrderDescending}},
		{name: "missing contract", filter: ledger.MasterFilter{Type: ledger.TypeImport}, wantErr: true},
		{name: "unknown type", filter: ledger.MasterFilter{ContractID: "C1", Type: "import"}, wantErr: true},
		{name: "invalid id", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Ref: ledger.ByID(-1)}, wantErr: true},
		{name: "ref with page", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Ref: ledger.ByID(1), Page: &ledger.Page{Limit: 1}}, wantErr: true},
		{name: "negative offset", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Page: &ledger.Page{Offset: -1}}, wantErr: true},
		{name: "unknown order", filter: ledger.MasterFilter{ContractID: "C1", Type: ledger.TypeImport, Order: "UP"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr && !errors.Is(err, ledger.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDetailFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  ledger.DetailFilter
		wantErr bool
	}{
		{name: "by id", filter: ledger.DetailFilter{ID: 5}},
		{name: "by master", filter: ledger.DetailFilter{Master: ledger.ByID(1), Status: ledger.StatusInProgress}},
		{name: "by master unique identifier", filter: ledger.DetailFilter{Master: ledger.ByUniqueIdentifier("task")}},
		{name: "empty", filter: ledger.DetailFilter{}, wantErr: true},
		{name: "id with master", filter: ledger.DetailFilter{ID: 5, Master: ledger.ByID(1)}, wantErr: true},
		{name: "id with status", filter: ledger.DetailFilter{ID: 5, Status: ledger.StatusFailed}, wantErr: true},
		{name: "id with page", filter: ledger.DetailFilter{ID: 5, Page: &ledger.Page{Limit: 1}}, wantErr: true},
		{name: "unknown status", filter: ledger.DetailFilter{Master: ledger.ByID(1), Status: "done"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr && !errors.Is(err, ledger.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRef(t *testing.T) {
	if !(ledger.Ref{}).IsZero() || (ledger.Ref{}).Valid() {
		t.Fatal("expected zero ref to be invalid")
	}
	byID := ledger.ByID(7)
	if id, ok := byID.ID(); !ok || id != 7 {
		t.Fatalf("unexpected id %d %v", id, ok)
	}
	if _, ok := byID.UniqueIdentifier(); ok {
		t.Fatal("ref by id must not report a unique identifier")
	}
	byUID := ledger.ByUniqueIdentifier(" task-9 ")
	if uid, ok := byUID.UniqueIdentifier(); !ok || uid != "task-9" {
		t.Fatalf("unexpected unique identifier %q %v", uid, ok)
	}
	m := &ledger.Master{ID: 7, UniqueIdentifier: "task-9"}
	if !byID.Matches(m) || !byUID.Matches(m) {
		t.Fatal("expected both refs to match the master")
	}
	if byID.String() != "id=7" || byUID.String() != "uid=task-9" {
		t.Fatalf("unexpected strings %q %q", byID, byUID)
	}
}

func TestNewDetailRequiresMaster(t *testing.T) {
	if _, err := ledger.NewDetail(ledger.Ref{}, time.Now()); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	d, err := ledger.NewDetail(ledger.ByUniqueIdentifier("task"), time.Now())
	if err != nil {
		t.Fatalf("new detail: %v", err)
	}
	if d.MasterID != 0 || d.MasterUniqueIdentifier != "task" || d.Status != ledger.StatusInProgress {
		t.Fatalf("unexpected detail %+v", d)
	}
}

func TestMasterSetUniqueIdentifier(t *testing.T) {
	m := &ledger.Master{}
	if err := m.SetUniqueIdentifier(""); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected empty identifier to fail, got %v", err)
	}
	if err := m.SetUniqueIdentifier("task-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.SetUniqueIdentifier("task-1"); err != nil {
		t.Fatalf("setting the same identifier again: %v", err)
	}
	if err := m.SetUniqueIdentifier("task-2"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected overwrite to fail, got %v", err)
	}
}

func TestParseTypeAndStatus(t *testing.T) {
	if typ, err := ledger.ParseType("export"); err != nil || typ != ledger.TypeExport {
		t.Fatalf("unexpected type %q err %v", typ, err)
	}
	if _, err := ledger.ParseType("sync"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s, err := ledger.ParseStatus("FILTERED_OUT"); err != nil || s != ledger.StatusFilteredOut {
		t.Fatalf("unexpected status %q err %v", s, err)
	}
	if ledger.TypeImport.EntityName() != "prices" || ledger.TypeExport.EntityName() != "products" {
		t.Fatal("unexpected entity names")
	}
}
