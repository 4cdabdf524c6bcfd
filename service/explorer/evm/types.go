package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Log is the subset of a receipt log the adapters read.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// Receipt is the subset of eth_getTransactionReceipt the node adapter reads.
type Receipt struct {
	Status            hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
	BlockNumber       *hexutil.Big   `json:"blockNumber"`
	Logs              []Log          `json:"logs"`
}

// NodeTx is a node transaction object joined with its receipt. Receipt is
// nil while the transaction is pending.
type NodeTx struct {
	Hash           common.Hash     `json:"hash"`
	From           common.Address  `json:"from"`
	To             *common.Address `json:"to"`
	Value          *hexutil.Big    `json:"value"`
	Gas            hexutil.Uint64  `json:"gas"`
	GasPrice       *hexutil.Big    `json:"gasPrice"`
	Nonce          hexutil.Uint64  `json:"nonce"`
	Input          hexutil.Bytes   `json:"input"`
	BlockNumber    *hexutil.Big    `json:"blockNumber"`
	BlockHash      *common.Hash    `json:"blockHash"`
	BlockTimestamp *hexutil.Uint64 `json:"blockTimestamp"`

	Receipt *Receipt `json:"-"`
}

type rpcBlock struct {
	Number       *hexutil.Big   `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []common.Hash  `json:"transactions"`
}

// ScanTx is one row of an Etherscan txlist or tokentx listing. Etherscan
// returns every field as a decimal string.
type ScanTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	Nonce           string `json:"nonce"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Input           string `json:"input"`
	Confirmations   string `json:"confirmations"`
	FunctionName    string `json:"functionName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}
