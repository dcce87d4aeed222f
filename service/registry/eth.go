package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/persist"
)

const nftABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"tokenURI","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

// Backend is the chain access an EthRegistry needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EthRegistry serves an ERC-721 contract. Transactions are signed with a single key, so the
// registry can only act for the address that key controls.
type EthRegistry struct {
	backend  Backend
	contract *bind.BoundContract
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	signer   persist.Address
}

// NewEthRegistry binds the contract at address. hexKey may be empty for a read only registry.
func NewEthRegistry(backend Backend, address persist.Address, chainID *big.Int, hexKey string) (*EthRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(nftABI))
	if err != nil {
		return nil, err
	}

	r := &EthRegistry{
		backend:  backend,
		contract: bind.NewBoundContract(address.Hex(), parsed, backend, backend, backend),
		abi:      parsed,
		chainID:  chainID,
	}

	if hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid registry key: %w", err)
		}
		r.key = key
		r.signer = persist.NewAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	return r, nil
}

// Signer returns the address transactions are sent from
func (r *EthRegistry) Signer() persist.Address {
	return r.signer
}

func (r *EthRegistry) Mint(ctx context.Context, to persist.Address, uri string) (persist.TokenID, error) {
	if err := r.requireSigner(to, ""); err != nil {
		return "", err
	}

	receipt, err := r.transact(ctx, "mint", uri)
	if err != nil {
		return "", err
	}

	transferID := r.abi.Events["Transfer"].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) == 4 && l.Topics[0] == transferID && l.Topics[1] == (common.Hash{}) {
			return persist.TokenIDFromBigInt(l.Topics[3].Big()), nil
		}
	}

	return "", ErrUnavailable{Op: "mint", Err: fmt.Errorf("no mint event in transaction %s", receipt.TxHash)}
}

func (r *EthRegistry) Approve(ctx context.Context, owner, spender persist.Address, tokenID persist.TokenID) error {
	if err := r.requireSigner(owner, tokenID); err != nil {
		return err
	}
	_, err := r.transact(ctx, "approve", spender.Hex(), tokenID.BigInt())
	return err
}

func (r *EthRegistry) OwnerOf(ctx context.Context, tokenID persist.TokenID) (persist.Address, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", tokenID.BigInt()); err != nil {
		return "", classifyErr("ownerOf", r.signer, tokenID, err)
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return persist.NewAddress(owner.Hex()), nil
}

func (r *EthRegistry) TokenURI(ctx context.Context, tokenID persist.TokenID) (string, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenURI", tokenID.BigInt()); err != nil {
		return "", classifyErr("tokenURI", r.signer, tokenID, err)
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (r *EthRegistry) IsApproved(ctx context.Context, spender persist.Address, tokenID persist.TokenID) (bool, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getApproved", tokenID.BigInt()); err != nil {
		return false, classifyErr("getApproved", spender, tokenID, err)
	}
	approved := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if persist.NewAddress(approved.Hex()).Equal(spender) {
		return true, nil
	}

	owner, err := r.OwnerOf(ctx, tokenID)
	if err != nil {
		return false, err
	}

	out = nil
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isApprovedForAll", owner.Hex(), spender.Hex()); err != nil {
		return false, classifyErr("isApprovedForAll", spender, tokenID, err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (r *EthRegistry) Transfer(ctx context.Context, spender, from, to persist.Address, tokenID persist.TokenID) error {
	if err := r.requireSigner(spender, tokenID); err != nil {
		return err
	}
	_, err := r.transact(ctx, "transferFrom", from.Hex(), to.Hex(), tokenID.BigInt())
	return err
}

func (r *EthRegistry) requireSigner(caller persist.Address, tokenID persist.TokenID) error {
	if r.key == nil {
		return ErrUnauthorized{Caller: caller, TokenID: tokenID, Reason: "registry has no signing key"}
	}
	if !caller.Equal(r.signer) {
		return ErrUnauthorized{Caller: caller, TokenID: tokenID, Reason: fmt.Sprintf("registry can only sign for %s", r.signer)}
	}
	return nil
}

func (r *EthRegistry) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(r.key, r.chainID)
	if err != nil {
		return nil, ErrUnavailable{Op: method, Err: err}
	}
	opts.Context = ctx

	tx, err := r.contract.Transact(opts, method, params...)
	if err != nil {
		return nil, classifyErr(method, r.signer, "", err)
	}

	logger.For(ctx).WithFields(logrus.Fields{"method": method, "tx": tx.Hash().Hex()}).Debug("sent registry transaction")

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, ErrUnavailable{Op: method, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrUnavailable{Op: method, Err: fmt.Errorf("transaction %s reverted", tx.Hash().Hex())}
	}
	return receipt, nil
}

// classifyErr maps contract reverts onto the registry's error kinds. Anything unrecognized,
// including transport failures, is reported as unavailable.
func classifyErr(op string, caller persist.Address, tokenID persist.TokenID, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUnavailable{Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid token id"), strings.Contains(msg, "nonexistent token"), strings.Contains(msg, "owner query for nonexistent"):
		return ErrTokenNotFound{TokenID: tokenID}
	case strings.Contains(msg, "not token owner"), strings.Contains(msg, "not owner nor approved"), strings.Contains(msg, "caller is not"), strings.Contains(msg, "transfer from incorrect owner"):
		return ErrUnauthorized{Caller: caller, TokenID: tokenID, Reason: err.Error()}
	default:
		return ErrUnavailable{Op: op, Err: err}
	}
}
