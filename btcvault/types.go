package btcvault

// DepositRecord is an issue request recorded on the ledger. The vault
// owns the deposit address derived for its ID.
type DepositRecord struct {
	ID               string `json:"id"` // decimal uint256, the derivation id
	Vault            string `json:"vault"`
	Requester        string `json:"requester"`
	Amount           int64  `json:"amount"` // satoshi
	Fee              int64  `json:"fee"`
	BtcAddress       string `json:"btcAddress"`       // 0x prefixed hash160
	BtcAddressBech32 string `json:"btcAddressBech32"` // empty until resolved
	Status           string `json:"status"`
	BlockNumber      int64  `json:"blockNumber"`
	TxHash           string `json:"txHash"` // ledger tx that emitted the request
	Timestamp        int64  `json:"timestamp"`
}

// RecordFilter matches on the non empty fields.
type RecordFilter struct {
	Vault  string
	Status string
}

type Page struct {
	Number int // starts at 0
	Size   int
}

const DefaultPageSize = 100

func (p Page) normalize() Page {
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Number < 0 {
		p.Number = 0
	}
	return p
}

const (
	TxTypeWrongPayment   = "WRONG_PAYMENT"
	TxTypeIssueDuplicate = "ISSUE_DUPLICATE"
	TxTypeTheftOfFunds   = "THEFT_OF_FUNDS"
)

// WrongPayment is a BTC transfer to a deposit address that matches no
// issue request, found by the wrong payment monitor.
type WrongPayment struct {
	ID         string `json:"id"`
	TxHash     string `json:"transactionHash"`
	Vault      string `json:"vault"`
	Type       string `json:"type"`
	Amount     int64  `json:"amount"`
	BtcAddress string `json:"btcAddress"` // the sender, refund goes there
	Timestamp  int64  `json:"timestamp"`
}

type ExcludedDeposit struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}
