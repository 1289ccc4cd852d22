package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	agentpay "github.com/agentpay-labs/agentpay-go"
)

// Config configures an EthereumClient.
type Config struct {
	// RPCURL is the JSON-RPC endpoint.
	RPCURL string

	// ChainID of the settlement chain.
	ChainID int64

	// TokenAddress is the ERC-20 token contract used for payment.
	TokenAddress string

	// PrivateKey signs outbound transfers. Optional for read-only use.
	PrivateKey string
}

// Validate checks that cfg can build a client.
func (cfg *Config) Validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("chain: RPC URL is required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain: chain ID is required")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return fmt.Errorf("chain: invalid token address %q", cfg.TokenAddress)
	}
	return nil
}

// transferGasLimit is a fixed gas allowance for an ERC-20 transfer.
const transferGasLimit = uint64(100000)

// EthereumClient implements Client over go-ethereum's ethclient.
type EthereumClient struct {
	eth     *ethclient.Client
	chainID *big.Int
	token   common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
}

var _ Client = (*EthereumClient)(nil)

// Dial connects to the RPC endpoint in cfg and returns a client.
func Dial(ctx context.Context, cfg Config) (*EthereumClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", agentpay.ErrChainUnavailable, cfg.RPCURL, err)
	}

	c := &EthereumClient{
		eth:     eth,
		chainID: big.NewInt(cfg.ChainID),
		token:   common.HexToAddress(cfg.TokenAddress),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, agentpay.ErrInvalidKey
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Address returns the sender address, or the zero address in read-only mode.
func (c *EthereumClient) Address() common.Address {
	return c.from
}

// Close releases the underlying RPC connection.
func (c *EthereumClient) Close() {
	c.eth.Close()
}

// balanceOfSelector and transferSelector are the first four bytes of the
// keccak-256 hash of the ERC-20 method signatures.
var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
)

// BalanceOf implements Client.
func (c *EthereumClient) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("chain: invalid address %q", addr)
	}
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf: %v", agentpay.ErrChainUnavailable, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// TransactionReceipt implements Client.
func (c *EthereumClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("%w: receipt %s: %v", agentpay.ErrChainUnavailable, txHash, err)
	}
	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

// SendTokenTransfer implements Client.
func (c *EthereumClient) SendTokenTransfer(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("chain: client is read-only, no private key configured")
	}
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("chain: invalid recipient %q", recipient)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", agentpay.ErrChainUnavailable, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", agentpay.ErrChainUnavailable, err)
	}

	data := PackTransfer(common.HexToAddress(recipient), amount)
	tx := types.NewTransaction(nonce, c.token, big.NewInt(0), transferGasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign transfer: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: send transfer: %v", agentpay.ErrChainUnavailable, err)
	}
	return signed.Hash().Hex(), nil
}

// PackTransfer builds the calldata for transfer(address,uint256).
func PackTransfer(recipient common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 68)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(recipient.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
