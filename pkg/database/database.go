// Package database is the gateway's ordered key-value store, a badger
// instance holding the conversation store (message records, sessions, dedup
// pointers) and the ledger (balances, applied receipts).
package database

import (
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/utils/lol"
)

// D wraps the badger handle. All store and ledger operations hang off it.
type D struct {
	ctx     context.T
	cancel  context.F
	dataDir string
	Logger  *logger
	// Now is the store's clock; replaced in tests.
	Now func() time.Time
	*badger.DB
}

// New opens (or creates) the database at dataDir. The store closes itself
// when ctx is cancelled.
func New(ctx context.T, cancel context.F, dataDir, logLevel string) (
	d *D, err error,
) {
	d = &D{
		ctx:     ctx,
		cancel:  cancel,
		dataDir: dataDir,
		Logger:  newLogger(lol.GetLogLevel(logLevel)),
		Now:     time.Now,
	}
	if err = os.MkdirAll(dataDir, 0700); chk.E(err) {
		return
	}
	opts := badger.DefaultOptions(dataDir)
	opts.CompactL0OnClose = true
	opts.Logger = d.Logger
	if d.DB, err = badger.Open(opts); chk.E(err) {
		return
	}
	log.T.Ln("opened conversation store", dataDir)
	go func() {
		<-d.ctx.Done()
		chk.E(d.DB.Close())
	}()
	return
}

// Path returns the directory of the database files.
func (d *D) Path() string { return d.dataDir }

// update runs fn in a read-write transaction, retrying on write conflicts so
// read-modify-write sequences (debit, credit, counters) behave as
// compare-and-swap loops.
func (d *D) update(fn func(txn *badger.Txn) error) (err error) {
	for range 32 {
		if err = d.DB.Update(fn); err != badger.ErrConflict {
			return
		}
		time.Sleep(time.Millisecond)
	}
	return
}
