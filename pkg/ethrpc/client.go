// Package ethrpc implements EthRpcClient: a thin, retrying wrapper over
// go-ethereum's rpc.Client that the rest of the core uses to reach the execution
// client. It speaks eth_call (with and without state overrides), eth_getCode,
// eth_chainId, eth_gasPrice, eth_maxPriorityFeePerGas, eth_estimateGas (with and
// without overrides), and eth_sendRawTransaction-adjacent submission via
// ethclient.Client, per spec.md §5.
package ethrpc

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-logr/logr"

	bundlererrors "github.com/stackup-wallet/erc4337-bundler-core/pkg/errors"
	"github.com/stackup-wallet/erc4337-bundler-core/pkg/state"
)

// methodNotFoundCode is the JSON-RPC error code a node returns when it has no handler
// for a method (e.g. a light node lacking eth_estimateGas's overrides argument).
const methodNotFoundCode = -32601

// invalidParamsCode is returned by some clients in place of methodNotFoundCode when an
// extra overrides argument is rejected outright.
const invalidParamsCode = -32602

// Client wraps a *rpc.Client/*ethclient.Client pair dialed against a single execution
// node. Methods issued through callContext (CallWithOverrides, EstimateGasWithOverrides,
// MaxPriorityFeePerGas, RawCall) retry transport-level failures (connection refused,
// timeouts) with exponential backoff; methods that go straight to the ethclient.Client
// are not retried. JSON-RPC application errors are never retried: errors carrying
// revert data are returned as they are, -32601/-32602 become ErrMethodNotFound, and
// anything else is wrapped in an RpcError.
type Client struct {
	rpc    *rpc.Client
	eth    *ethclient.Client
	log    logr.Logger
	maxTry uint64
}

// New dials url and wraps the resulting clients. url may be an HTTP(S) or WS(S)
// endpoint, anything rpc.DialContext accepts.
func New(ctx context.Context, url string, log logr.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &bundlererrors.RpcError{Message: "dial: " + err.Error()}
	}
	return &Client{
		rpc:    rpcClient,
		eth:    ethclient.NewClient(rpcClient),
		log:    log.WithName("ethrpc"),
		maxTry: 5,
	}, nil
}

// NewFromClients wraps already-dialed clients, used by callers (e.g. tests) that want
// to share one underlying connection between an EthRpcClient and a raw jsonrpc
// passthrough handler.
func NewFromClients(rpcClient *rpc.Client, ethClient *ethclient.Client, log logr.Logger) *Client {
	return &Client{rpc: rpcClient, eth: ethClient, log: log.WithName("ethrpc"), maxTry: 5}
}

// Raw exposes the underlying *rpc.Client for callers that need arbitrary passthrough
// (the jsonrpc package's standard Ethereum method forwarding), spec.md §5 "the core
// forwards unrecognized eth_* methods unchanged".
func (c *Client) Raw() *rpc.Client { return c.rpc }

// Eth exposes the underlying *ethclient.Client for callers that need the typed
// go-ethereum client directly (the jsonrpc package's eth_call passthrough).
func (c *Client) Eth() *ethclient.Client { return c.eth }

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxTry), ctx)
}

// isTransportError reports whether err looks like a connection-level failure rather
// than a JSON-RPC application error, so only the former gets retried.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	return !asRPCError(err, &rpcErr)
}

func asRPCError(err error, target *rpc.Error) bool {
	if e, ok := err.(rpc.Error); ok {
		*target = e
		return true
	}
	return false
}

func (c *Client) callContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var lastErr error
	op := func() error {
		err := c.rpc.CallContext(ctx, result, method, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if isTransportError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		// Errors carrying revert data stay unwrapped so CallWithOverrides can extract it.
		if _, ok := revertData(lastErr); ok {
			return lastErr
		}
		return mapRPCError(method, lastErr)
	}
	return nil
}

func mapRPCError(method string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if asRPCError(err, &rpcErr) {
		if rpcErr.ErrorCode() == methodNotFoundCode || rpcErr.ErrorCode() == invalidParamsCode {
			return bundlererrors.ErrMethodNotFound
		}
	}
	return &bundlererrors.RpcError{Message: method + ": " + err.Error()}
}

// CallMsg mirrors ethereum.CallMsg, re-exported so callers building eth_call requests
// don't need a direct go-ethereum import.
type CallMsg = ethereum.CallMsg

// Call issues eth_call with no state overrides.
func (c *Client) Call(ctx context.Context, msg CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

// CallWithOverrides issues eth_call with a state override set, the core's primary tool
// for simulateValidation/simulateHandleOp (spec.md §4.2, §4.3.4). Returns the raw
// revert data on a JSON-RPC "execution reverted" error, since the revert payload IS the
// result for this protocol (spec.md §9 "revert-as-result").
func (c *Client) CallWithOverrides(ctx context.Context, msg CallMsg, overrides state.Overrides) ([]byte, error) {
	params := toCallArg(msg)
	var raw hexutil.Bytes
	err := c.callContext(ctx, &raw, "eth_call", params, "latest", overrides)
	if err != nil {
		if data, ok := revertData(err); ok {
			return data, nil
		}
		return nil, err
	}
	return raw, nil
}

// revertData extracts the data field off a go-ethereum JSON-RPC "execution reverted"
// style error, if present.
func revertData(err error) ([]byte, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	de, ok := err.(dataError)
	if !ok {
		return nil, false
	}
	switch d := de.ErrorData().(type) {
	case string:
		b, decErr := hexutil.Decode(d)
		if decErr != nil {
			return nil, false
		}
		return b, true
	case hexutil.Bytes:
		return d, true
	default:
		return nil, false
	}
}

func toCallArg(msg CallMsg) map[string]interface{} {
	arg := map[string]interface{}{"to": msg.To}
	if msg.From != (common.Address{}) {
		arg["from"] = msg.From
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	return arg
}

// EstimateGas issues eth_estimateGas with no overrides.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

// EstimateGasWithOverrides issues eth_estimateGas with a state override set. Some nodes
// reject the third argument outright (spec.md §4.3.2 Strategy A's one-way feature
// latch); callers should treat ErrMethodNotFound as "fall back to Strategy B" rather
// than a fatal error.
func (c *Client) EstimateGasWithOverrides(ctx context.Context, msg CallMsg, overrides state.Overrides) (uint64, error) {
	var result hexutil.Uint64
	err := c.callContext(ctx, &result, "eth_estimateGas", toCallArg(msg), overrides)
	if err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// GetCode returns the deployed code at addr, used to distinguish an undeployed
// (counterfactual) sender from a deployed one, spec.md §4.2.
func (c *Client) GetCode(ctx context.Context, addr common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, addr, blockNumber)
}

// ChainID returns the connected node's chain id, cached nowhere: callers that need it
// repeatedly should cache it themselves (e.g. Manager construction).
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// GasPrice returns eth_gasPrice, the legacy gas price fallback used when
// eth_maxPriorityFeePerGas is unavailable, spec.md §4.3.3.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// MaxPriorityFeePerGas returns eth_maxPriorityFeePerGas, spec.md §4.3.3.
func (c *Client) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.callContext(ctx, &result, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// BaseFee returns the latest block's base fee, used to derive maxFeePerGas under
// EIP-1559, spec.md §4.3.3.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &bundlererrors.RpcError{Message: "eth_getBlockByNumber: " + err.Error()}
	}
	if header.BaseFee == nil {
		return big.NewInt(0), nil
	}
	return header.BaseFee, nil
}

// SendTransaction broadcasts a fully signed transaction, used by the relay module's
// handleOps submission, spec.md §4.6.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return &bundlererrors.RpcError{Message: "eth_sendRawTransaction: " + err.Error()}
	}
	return nil
}

// PendingNonceAt returns the next nonce for addr, including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}

// TransactionReceipt polls for a mined receipt, wrapping go-ethereum's not-found
// sentinel in RpcError so callers get a uniform error taxonomy.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, &bundlererrors.RpcError{Message: "eth_getTransactionReceipt: " + err.Error()}
	}
	return receipt, nil
}

// RawCall issues an arbitrary passthrough JSON-RPC method, used by the jsonrpc
// package's standard Ethereum method forwarding (spec.md §5).
func (c *Client) RawCall(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.callContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}
