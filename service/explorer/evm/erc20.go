package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABI covers the calls and events the adapters decode.
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

var erc20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// TokenTransfer is one ERC-20 value movement.
type TokenTransfer struct {
	Contract common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
}

// packBalanceOf encodes a balanceOf(owner) call.
func packBalanceOf(owner common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", owner)
}

// unpackBalance decodes a balanceOf result. An empty result is a zero
// balance: the address never interacted with the token.
func unpackBalance(data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return new(big.Int), nil
	}
	out, err := erc20.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return new(big.Int), nil
	}
	return balance, nil
}

// decodeTransferInput decodes transfer(to, value) call data sent to
// contract by from.
func decodeTransferInput(contract, from common.Address, input []byte) (TokenTransfer, bool) {
	method := erc20.Methods["transfer"]
	if len(input) < 4 || !bytes.Equal(input[:4], method.ID) {
		return TokenTransfer{}, false
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil || len(args) != 2 {
		return TokenTransfer{}, false
	}
	to, ok1 := args[0].(common.Address)
	value, ok2 := args[1].(*big.Int)
	if !ok1 || !ok2 {
		return TokenTransfer{}, false
	}
	return TokenTransfer{Contract: contract, From: from, To: to, Value: value}, true
}

// decodeTransferLog decodes a Transfer(from, to, value) event.
func decodeTransferLog(l Log) (TokenTransfer, bool) {
	event := erc20.Events["Transfer"]
	if len(l.Topics) != 3 || l.Topics[0] != event.ID {
		return TokenTransfer{}, false
	}
	values, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil || len(values) != 1 {
		return TokenTransfer{}, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return TokenTransfer{}, false
	}
	return TokenTransfer{
		Contract: l.Address,
		From:     common.BytesToAddress(l.Topics[1].Bytes()),
		To:       common.BytesToAddress(l.Topics[2].Bytes()),
		Value:    value,
	}, true
}
