package wallet

import (
	"time"

	"github.com/carshare-pay/escrow_ledger/internal/ledger"
)

// Balance is a snapshot of a user's wallet.
type Balance struct {
	WalletID  string
	UserID    string
	Available int64
	Pending   int64
	AsOf      time.Time
}

// PaymentIntent is a PENDING transaction plus the transfer content the payer must quote so the
// gateway notification can be correlated back to it.
type PaymentIntent struct {
	Transaction ledger.Transaction
	OrderID     string
	Content     string
}
