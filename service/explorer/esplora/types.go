package esplora

// Status is the confirmation state of a transaction or output.
type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type Output struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAsm     string `json:"scriptpubkey_asm"`
	ScriptPubKeyType    string `json:"scriptpubkey_type"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               uint64 `json:"value"`
}

type Input struct {
	TxID       string  `json:"txid"`
	Vout       uint32  `json:"vout"`
	Prevout    *Output `json:"prevout"`
	IsCoinbase bool    `json:"is_coinbase"`
	Sequence   uint32  `json:"sequence"`
}

// Tx is the transaction record returned by /tx and the address listings.
type Tx struct {
	TxID     string   `json:"txid"`
	Version  int      `json:"version"`
	Locktime int64    `json:"locktime"`
	Size     int      `json:"size"`
	Weight   int      `json:"weight"`
	Fee      uint64   `json:"fee"`
	Vin      []Input  `json:"vin"`
	Vout     []Output `json:"vout"`
	Status   Status   `json:"status"`
}

type addressStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int64  `json:"tx_count"`
}

type addressInfo struct {
	Address      string       `json:"address"`
	ChainStats   addressStats `json:"chain_stats"`
	MempoolStats addressStats `json:"mempool_stats"`
}

type utxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status Status `json:"status"`
}

type block struct {
	ID                string `json:"id"`
	Height            uint64 `json:"height"`
	Timestamp         int64  `json:"timestamp"`
	PreviousBlockHash string `json:"previousblockhash"`
	TxCount           int    `json:"tx_count"`
}

// pushFrame is the subset of a mempool.space websocket frame carrying
// transactions for a tracked address.
type pushFrame struct {
	AddressTransactions []Tx `json:"address-transactions"`
	BlockTransactions   []Tx `json:"block-transactions"`
}
