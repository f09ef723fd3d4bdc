package database

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"zapai.dev/pkg/protocol/zap"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/log"
)

// ErrInsufficientFunds is returned by Debit when the balance cannot cover
// the amount. The balance is left unchanged.
var ErrInsufficientFunds = errors.New("insufficient funds")

func readBalance(txn *badger.Txn, user string) (sats int64, err error) {
	item, err := txn.Get(balanceKey(user))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return
	}
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &sats)
	})
	return
}

func writeBalance(txn *badger.Txn, user string, sats int64) (err error) {
	var data []byte
	if data, err = msgpack.Marshal(sats); chk.E(err) {
		return
	}
	return txn.Set(balanceKey(user), data)
}

// Balance returns the user's current balance in sats, zero for unknown users.
func (d *D) Balance(user string) (sats int64, err error) {
	err = d.DB.View(func(txn *badger.Txn) (err error) {
		sats, err = readBalance(txn, user)
		return
	})
	return
}

// Credit adds amount sats to the user's balance and returns the new balance.
func (d *D) Credit(user string, amount int64) (newBalance int64, err error) {
	if amount <= 0 {
		err = errors.New("credit amount must be positive")
		return
	}
	err = d.update(func(txn *badger.Txn) (err error) {
		var cur int64
		if cur, err = readBalance(txn, user); err != nil {
			return
		}
		newBalance = cur + amount
		return writeBalance(txn, user, newBalance)
	})
	return
}

// Debit subtracts amount sats atomically. When the balance cannot cover the
// amount it returns ErrInsufficientFunds and writes nothing.
func (d *D) Debit(user string, amount int64) (newBalance int64, err error) {
	if amount <= 0 {
		err = errors.New("debit amount must be positive")
		return
	}
	err = d.update(func(txn *badger.Txn) (err error) {
		var cur int64
		if cur, err = readBalance(txn, user); err != nil {
			return
		}
		if cur < amount {
			return ErrInsufficientFunds
		}
		newBalance = cur - amount
		return writeBalance(txn, user, newBalance)
	})
	return
}

// ApplyReceipt credits a parsed zap receipt exactly once, keyed by the
// receipt event id. Replays report applied=false with the current balance.
func (d *D) ApplyReceipt(r *zap.Receipt) (
	applied bool, newBalance int64, err error,
) {
	err = d.update(func(txn *badger.Txn) (err error) {
		applied = false
		if _, err = txn.Get(receiptKey(r.ReceiptID)); err == nil {
			newBalance, err = readBalance(txn, r.Payer)
			return
		} else if err != badger.ErrKeyNotFound {
			return
		}
		var cur int64
		if cur, err = readBalance(txn, r.Payer); err != nil {
			return
		}
		newBalance = cur + r.Sats
		if err = writeBalance(txn, r.Payer, newBalance); err != nil {
			return
		}
		if err = txn.Set(receiptKey(r.ReceiptID), []byte(r.Payer)); err != nil {
			return
		}
		applied = true
		return
	})
	if err == nil && applied {
		log.I.F("credited %d sats to %s (receipt %s), balance now %d",
			r.Sats, shortKey(r.Payer), shortKey(r.ReceiptID), newBalance)
	}
	return
}
