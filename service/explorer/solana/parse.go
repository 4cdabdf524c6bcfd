package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Transfer is one value movement decoded from an instruction. For token
// transfers Source and Destination are token accounts and Authority is the
// signing wallet.
type Transfer struct {
	Token       bool
	Source      string
	Destination string
	Authority   string
	Mint        string
	Amount      uint64
}

// TokenDelta is the change of one owner's token balance within a
// transaction, in the token's minimal unit.
type TokenDelta struct {
	Owner string
	Mint  string
	Delta decimal.Decimal
}

// Tx is the raw record of the solana adapter. Listing records only carry the
// signature metadata; Hydrated records carry the decoded transaction.
type Tx struct {
	Signature          string
	Slot               uint64
	BlockTime          int64
	Err                string
	ConfirmationStatus string
	Memo               string

	Hydrated     bool
	Fee          uint64
	Keys         []string
	PreBalances  []uint64
	PostBalances []uint64
	Transfers    []Transfer
	TokenDeltas  []TokenDelta
}

var listingMemo = regexp.MustCompile(`^\[\d+\]\s*`)

// signatureToTx converts a getSignaturesForAddress entry. Amount, memo
// instructions and balances need a getTransaction call.
func signatureToTx(sig *rpc.TransactionSignature) Tx {
	tx := Tx{
		Signature:          sig.Signature.String(),
		Slot:               sig.Slot,
		ConfirmationStatus: string(sig.ConfirmationStatus),
	}
	if sig.BlockTime != nil {
		tx.BlockTime = int64(*sig.BlockTime)
	}
	if sig.Err != nil {
		tx.Err = fmt.Sprintf("transaction failed: %v", sig.Err)
	}
	if sig.Memo != nil {
		tx.Memo = listingMemo.ReplaceAllString(*sig.Memo, "")
	}
	return tx
}

// parseTransactionResult decodes a getTransaction result into a hydrated
// record.
func parseTransactionResult(result *rpc.GetTransactionResult) (Tx, error) {
	if result == nil || result.Transaction == nil {
		return Tx{}, fmt.Errorf("transaction payload missing")
	}
	decoded, err := result.Transaction.GetTransaction()
	if err != nil {
		return Tx{}, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if len(decoded.Signatures) == 0 {
		return Tx{}, fmt.Errorf("transaction without signature")
	}

	tx := Tx{
		Signature: decoded.Signatures[0].String(),
		Slot:      result.Slot,
		Hydrated:  true,
		// getTransaction only returns transactions that reached the
		// requested commitment.
		ConfirmationStatus: "confirmed",
	}
	if result.BlockTime != nil {
		tx.BlockTime = int64(*result.BlockTime)
	}

	accountKeys := decoded.Message.AccountKeys
	tx.Keys = make([]string, len(accountKeys))
	for i, k := range accountKeys {
		tx.Keys[i] = k.String()
	}

	if meta := result.Meta; meta != nil {
		tx.Fee = meta.Fee
		tx.PreBalances = meta.PreBalances
		tx.PostBalances = meta.PostBalances
		if meta.Err != nil {
			tx.Err = fmt.Sprintf("transaction failed: %v", meta.Err)
		}
		tx.TokenDeltas = tokenDeltas(meta.PreTokenBalances, meta.PostTokenBalances)
	}

	for _, instruction := range decoded.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			if t, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				tx.Transfers = append(tx.Transfers, t)
			}
		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			if t, err := parseTokenTransfer(instruction, accountKeys); err == nil {
				tx.Transfers = append(tx.Transfers, t)
			}
		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				tx.Memo = memo
			}
		}
	}
	return tx, nil
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, i int) string {
	if i >= len(instruction.Accounts) {
		return ""
	}
	idx := int(instruction.Accounts[i])
	if idx >= len(accountKeys) {
		return ""
	}
	return accountKeys[idx].String()
}

// parseSystemTransfer decodes a System Program Transfer instruction:
// [0..4] instruction type (u32), [4..12] lamports (u64); accounts [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (Transfer, error) {
	if len(instruction.Data) < 12 {
		return Transfer{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if kind := binary.LittleEndian.Uint32(instruction.Data[0:4]); kind != SystemProgramTransferInstruction {
		return Transfer{}, fmt.Errorf("not a transfer instruction: type %d", kind)
	}
	return Transfer{
		Source:      accountAt(instruction, accountKeys, 0),
		Destination: accountAt(instruction, accountKeys, 1),
		Authority:   accountAt(instruction, accountKeys, 0),
		Amount:      binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}

// parseTokenTransfer decodes Transfer ([source, destination, authority]) and
// TransferChecked ([source, mint, destination, authority]) instructions.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (Transfer, error) {
	if len(instruction.Data) == 0 {
		return Transfer{}, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		if len(instruction.Data) < 9 {
			return Transfer{}, fmt.Errorf("transfer instruction data too short")
		}
		return Transfer{
			Token:       true,
			Source:      accountAt(instruction, accountKeys, 0),
			Destination: accountAt(instruction, accountKeys, 1),
			Authority:   accountAt(instruction, accountKeys, 2),
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
		}, nil

	case TokenProgramTransferCheckedInstruction:
		if len(instruction.Data) < 10 {
			return Transfer{}, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(instruction.Accounts) < 4 {
			return Transfer{}, fmt.Errorf("transferChecked missing accounts")
		}
		return Transfer{
			Token:       true,
			Source:      accountAt(instruction, accountKeys, 0),
			Mint:        accountAt(instruction, accountKeys, 1),
			Destination: accountAt(instruction, accountKeys, 2),
			Authority:   accountAt(instruction, accountKeys, 3),
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
		}, nil

	default:
		return Transfer{}, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

// parseMemo returns memo program data as text. Some wallets base64 encode
// the memo.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && len(decoded) > 0 && printable(decoded) {
		return string(decoded)
	}
	return memo
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}

// tokenDeltas pairs pre and post token balances by account index.
func tokenDeltas(pre, post []rpc.TokenBalance) []TokenDelta {
	type entry struct {
		owner, mint string
		pre, post   decimal.Decimal
	}
	entries := map[uint16]*entry{}
	var order []uint16

	add := func(b rpc.TokenBalance, isPost bool) {
		k := b.AccountIndex
		e, ok := entries[k]
		if !ok {
			e = &entry{mint: b.Mint.String()}
			if b.Owner != nil {
				e.owner = b.Owner.String()
			}
			entries[k] = e
			order = append(order, k)
		}
		var amount decimal.Decimal
		if b.UiTokenAmount != nil {
			amount, _ = decimal.NewFromString(b.UiTokenAmount.Amount)
		}
		if isPost {
			e.post = amount
		} else {
			e.pre = amount
		}
	}
	for _, b := range pre {
		add(b, false)
	}
	for _, b := range post {
		add(b, true)
	}

	out := make([]TokenDelta, 0, len(order))
	for _, k := range order {
		e := entries[k]
		if d := e.post.Sub(e.pre); !d.IsZero() {
			out = append(out, TokenDelta{Owner: e.owner, Mint: e.mint, Delta: d})
		}
	}
	return out
}
