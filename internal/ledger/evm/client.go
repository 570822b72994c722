// Package evm talks to the Remittance escrow contract and its ERC-20
// stablecoin over JSON-RPC. Business preconditions (allowance, balance,
// recipient, withdrawn flag) are checked with view calls before submitting,
// so the common failures surface as typed errors instead of bare reverts.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"remitgate/internal/ledger"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
)

// maxLogRange bounds one eth_getLogs window.
const maxLogRange = 5000

// Backend is the JSON-RPC surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Client implements ledger.Ledger against deployed contracts.
type Client struct {
	backend       Backend
	escrow        common.Address
	token         common.Address
	chainID       *big.Int
	pollInterval  time.Duration
	confirmations uint64
	logger        *slog.Logger

	// nonces serializes submissions per account
	nonceMu sync.Mutex
	nonces  map[common.Address]*sync.Mutex
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithConfirmations requires n blocks on top of a receipt before it is final.
func WithConfirmations(n uint64) Option {
	return func(c *Client) {
		c.confirmations = n
	}
}

// Dial connects to rpcURL and binds the escrow and token contracts.
func Dial(ctx context.Context, rpcURL, escrow, token string, opts ...Option) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return New(ctx, backend, escrow, token, opts...)
}

// New binds the contracts on backend and caches the chain id.
func New(ctx context.Context, backend Backend, escrow, token string, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	escrowAddr, err := id.ParseAddress(escrow)
	if err != nil {
		return nil, fmt.Errorf("escrow contract address: %w", err)
	}
	tokenAddr, err := id.ParseAddress(token)
	if err != nil {
		return nil, fmt.Errorf("token contract address: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	c := &Client{
		backend:      backend,
		escrow:       escrowAddr.Common(),
		token:        tokenAddr.Common(),
		chainID:      chainID,
		pollInterval: time.Second,
		nonces:       make(map[common.Address]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Authorize(ctx context.Context, signer ledger.Signer, amount *big.Int) (ledger.Submission, error) {
	data, err := tokenContract.Pack("approve", c.escrow, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return c.send(ctx, signer, c.token, data)
}

func (c *Client) Deposit(ctx context.Context, signer ledger.Signer, req ledger.DepositRequest) (ledger.Submission, error) {
	owner := signer.Address().Common()

	allowance, err := c.callUint(ctx, tokenContract, c.token, "allowance", owner, c.escrow)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(req.Amount) < 0 {
		return nil, ledger.ErrInsufficientAllowance
	}
	balance, err := c.callUint(ctx, tokenContract, c.token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(req.Amount) < 0 {
		return nil, ledger.ErrInsufficientBalance
	}

	data, err := escrowContract.Pack("sendRemittance",
		req.Recipient.Common(),
		req.Amount,
		req.FXRate,
		req.SourceCurrency.String(),
		req.TargetCurrency.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("pack sendRemittance: %w", err)
	}
	return c.send(ctx, signer, c.escrow, data)
}

func (c *Client) Withdraw(ctx context.Context, signer ledger.Signer, transferID id.TransferID) (ledger.Submission, error) {
	rec, err := c.Transfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if rec.Recipient.Lower() != signer.Address().Lower() {
		return nil, ledger.ErrNotRecipient
	}
	if rec.State == ledger.StateWithdrawn {
		return nil, ledger.ErrAlreadyWithdrawn
	}

	data, err := escrowContract.Pack("withdraw", new(big.Int).SetUint64(uint64(transferID)))
	if err != nil {
		return nil, fmt.Errorf("pack withdraw: %w", err)
	}
	return c.send(ctx, signer, c.escrow, data)
}

func (c *Client) Transfer(ctx context.Context, transferID id.TransferID) (*ledger.EscrowRecord, error) {
	data, err := escrowContract.Pack("transfers", new(big.Int).SetUint64(uint64(transferID)))
	if err != nil {
		return nil, fmt.Errorf("pack transfers: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.escrow, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call transfers(%d): %w", transferID, err)
	}
	values, err := escrowContract.Unpack("transfers", out)
	if err != nil {
		return nil, fmt.Errorf("unpack transfers(%d): %w", transferID, err)
	}
	if len(values) != 7 {
		return nil, fmt.Errorf("unpack transfers(%d): unexpected %d outputs", transferID, len(values))
	}

	sender, _ := values[0].(common.Address)
	if sender == (common.Address{}) {
		return nil, ledger.ErrUnknownTransfer
	}
	recipient, _ := values[1].(common.Address)
	amount, _ := values[2].(*big.Int)
	fxRate, _ := values[3].(*big.Int)
	source, _ := values[4].(string)
	target, _ := values[5].(string)
	withdrawn, _ := values[6].(bool)

	state := ledger.StateFunded
	if withdrawn {
		state = ledger.StateWithdrawn
	}
	return &ledger.EscrowRecord{
		ID:             transferID,
		Sender:         id.AddressFrom(sender),
		Recipient:      id.AddressFrom(recipient),
		Amount:         amount,
		FXRate:         fxRate,
		SourceCurrency: source,
		TargetCurrency: target,
		State:          state,
	}, nil
}

func (c *Client) Receipt(ctx context.Context, ref string) (*ledger.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(ref))
	if errors.Is(err, ethereum.NotFound) {
		return nil, sentinel.ErrPending
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	if c.confirmations > 0 {
		head, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("read head block: %w", err)
		}
		if head < receipt.BlockNumber.Uint64()+c.confirmations {
			return nil, sentinel.ErrPending
		}
	}

	out := &ledger.Receipt{Ref: ref, Status: ledger.ReceiptSuccess}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = ledger.ReceiptReverted
		return out, nil
	}
	for _, lg := range receipt.Logs {
		if lg.Address != c.escrow {
			continue
		}
		ev, ok, err := decodeLog(*lg)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Events = append(out.Events, ev)
		}
	}
	return out, nil
}

// Events scans escrow logs from block cursor up to the confirmed head.
func (c *Client) Events(ctx context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, cursor, fmt.Errorf("read head block: %w", err)
	}
	if head < c.confirmations {
		return nil, cursor, nil
	}
	to := head - c.confirmations
	if cursor > to {
		return nil, cursor, nil
	}
	if to-cursor >= maxLogRange {
		to = cursor + maxLogRange - 1
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(cursor),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.escrow},
		Topics: [][]common.Hash{{
			escrowContract.Events["TransferInitiated"].ID,
			escrowContract.Events["Withdrawn"].ID,
		}},
	})
	if err != nil {
		return nil, cursor, fmt.Errorf("filter escrow logs: %w", err)
	}

	events := make([]ledger.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok, err := decodeLog(lg)
		if err != nil {
			return nil, cursor, err
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, to + 1, nil
}

func (c *Client) send(ctx context.Context, signer ledger.Signer, to common.Address, data []byte) (ledger.Submission, error) {
	from := signer.Address().Common()
	mu := c.accountLock(from)
	mu.Lock()
	defer mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %w", ledger.ErrReverted, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	ref := signed.Hash().Hex()
	if c.logger != nil {
		c.logger.DebugContext(ctx, "ledger transaction submitted",
			"tx_hash", ref,
			"from", from.Hex(),
			"to", to.Hex(),
			"nonce", nonce,
		)
	}
	return ledger.NewPollingSubmission(ref, c.Receipt, c.pollInterval), nil
}

func (c *Client) accountLock(addr common.Address) *sync.Mutex {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	mu, ok := c.nonces[addr]
	if !ok {
		mu = &sync.Mutex{}
		c.nonces[addr] = mu
	}
	return mu
}

func (c *Client) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected %d outputs", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return v, nil
}

// decodeLog converts an escrow log to a ledger event. Logs of other events
// are skipped with ok=false.
func decodeLog(lg types.Log) (ledger.Event, bool, error) {
	if len(lg.Topics) == 0 {
		return ledger.Event{}, false, nil
	}
	base := ledger.Event{Ref: lg.TxHash.Hex(), Cursor: lg.BlockNumber}

	switch lg.Topics[0] {
	case escrowContract.Events["TransferInitiated"].ID:
		if len(lg.Topics) != 4 {
			return ledger.Event{}, false, fmt.Errorf("TransferInitiated log has %d topics", len(lg.Topics))
		}
		fields := map[string]any{}
		if err := escrowContract.UnpackIntoMap(fields, "TransferInitiated", lg.Data); err != nil {
			return ledger.Event{}, false, fmt.Errorf("unpack TransferInitiated: %w", err)
		}
		base.Kind = ledger.EventTransferInitiated
		base.TransferID = id.TransferID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64())
		base.Sender = id.AddressFrom(common.BytesToAddress(lg.Topics[2].Bytes()))
		base.Recipient = id.AddressFrom(common.BytesToAddress(lg.Topics[3].Bytes()))
		base.Amount, _ = fields["amount"].(*big.Int)
		base.FXRate, _ = fields["fxRate"].(*big.Int)
		base.SourceCurrency, _ = fields["sourceCurrency"].(string)
		base.TargetCurrency, _ = fields["targetCurrency"].(string)
		return base, true, nil

	case escrowContract.Events["Withdrawn"].ID:
		if len(lg.Topics) != 3 {
			return ledger.Event{}, false, fmt.Errorf("Withdrawn log has %d topics", len(lg.Topics))
		}
		base.Kind = ledger.EventWithdrawn
		base.TransferID = id.TransferID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64())
		base.Recipient = id.AddressFrom(common.BytesToAddress(lg.Topics[2].Bytes()))
		return base, true, nil
	}
	return ledger.Event{}, false, nil
}
