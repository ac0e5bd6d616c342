package models

import (
	"errors"
	"fmt"
	"time"
)

// Logical database names accepted by db-dump.
const (
	DatabaseMain     = "main"
	DatabaseCheckout = "checkout"
	DatabaseSales    = "sales"
)

// DumpDatabase describes where a logical database is dumped from.
type DumpDatabase struct {
	Name     string
	Slot     string // slot whose presence in the persisted config selects this database
	Replica  string // preferred, read-only connection
	Fallback string // used when the replica is not resolvable
}

// DumpDatabases lists the dumpable databases in slot order.
var DumpDatabases = []DumpDatabase{
	{Name: DatabaseMain, Slot: SlotDefault, Replica: ConnectionSlave, Fallback: ConnectionMain},
	{Name: DatabaseCheckout, Slot: SlotCheckout, Replica: ConnectionQuoteSlave, Fallback: ConnectionQuoteMain},
	{Name: DatabaseSales, Slot: SlotSales, Replica: ConnectionSalesSlave, Fallback: ConnectionSalesMain},
}

// DumpDatabaseByName returns the dump definition for a logical database name.
func DumpDatabaseByName(name string) (DumpDatabase, bool) {
	for _, d := range DumpDatabases {
		if d.Name == name {
			return d, true
		}
	}
	return DumpDatabase{}, false
}

// DumpDatabaseNames returns the accepted logical database names.
func DumpDatabaseNames() []string {
	names := make([]string, len(DumpDatabases))
	for i, d := range DumpDatabases {
		names[i] = d.Name
	}
	return names
}

// DumpRequest holds the input of one db-dump run.
type DumpRequest struct {
	Databases      []string // empty means every database in the persisted config
	RemoveDefiners bool
}

// DumpJob holds everything needed to dump a single database.
type DumpJob struct {
	Database       string
	Connection     ConnectionDescriptor
	RemoveDefiners bool
	OutputPath     string
	LockPath       string
	Timeout        time.Duration
}

// DumpResult holds the result of dumping one database.
type DumpResult struct {
	Database   string
	OutputPath string
	ExitCode   int
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}

// DumpRunResult holds the results of one db-dump run.
type DumpRunResult struct {
	RunID   string
	Locked  bool // false if the run ended before the lock was held
	Results []DumpResult
}

// Failed returns the results that did not produce an artifact.
func (r *DumpRunResult) Failed() []DumpResult {
	var failed []DumpResult
	for _, res := range r.Results {
		if res.Error != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins the errors of every failed database, or returns nil.
func (r *DumpRunResult) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Database, res.Error))
	}
	return errors.Join(errs...)
}

// VerifyResult holds the result of checking a dump artifact.
type VerifyResult struct {
	Path             string
	CompressedSize   int64
	UncompressedSize int64
	Error            error
}
