package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type UserTxType string

const (
	UserTxTypeFundMovement UserTxType = "fund-movr"
	UserTxTypeApprove      UserTxType = "approve"
)

// Route is a planned sequence of user transactions as returned by the planning
// service when the route is started. UserTxs is a hint; the service stays
// authoritative for every step after the first.
type Route struct {
	ActiveRouteID int64            `json:"activeRouteId"`
	UserTxs       []StepDescriptor `json:"userTxs"`
	TotalUserTx   int              `json:"totalUserTx"`
	FromChainID   int64            `json:"fromChainId,omitempty"`
	ToChainID     int64            `json:"toChainId,omitempty"`
	Sender        string           `json:"sender,omitempty"`
}

// StepDescriptor is one user transaction of a route.
type StepDescriptor struct {
	UserTxType    UserTxType    `json:"userTxType"`
	TxTarget      string        `json:"txTarget"`
	ChainID       int64         `json:"chainId"`
	TxData        string        `json:"txData"`
	TxType        string        `json:"txType,omitempty"`
	ActiveRouteID int64         `json:"activeRouteId,omitempty"`
	Value         string        `json:"value"`
	UserTxIndex   int           `json:"userTxIndex"`
	TotalUserTx   int           `json:"totalUserTx"`
	ApprovalData  *ApprovalData `json:"approvalData,omitempty"`
}

type ApprovalData struct {
	Required bool   `json:"required"`
	Spender  string `json:"allowanceTarget"`
	Owner    string `json:"owner"`
	Amount   string `json:"minimumApprovalAmount"`
	Token    string `json:"approvalTokenAddress"`
}

type TxKind string

const (
	TxKindApprove TxKind = "approve"
	TxKindSend    TxKind = "send"
)

// TransactionRequest is a fully formed payload ready for a wallet to sign.
type TransactionRequest struct {
	Kind    TxKind         `json:"kind"`
	From    common.Address `json:"from,omitempty"`
	To      common.Address `json:"to"`
	Data    hexutil.Bytes  `json:"data"`
	Value   *big.Int       `json:"value"`
	ChainID int64          `json:"chainId"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type ChainMetadata struct {
	ChainID   int64          `json:"chainId"`
	Name      string         `json:"name"`
	Currency  NativeCurrency `json:"currency"`
	RPCs      []string       `json:"rpcs"`
	Explorers []string       `json:"explorers"`
	Icon      string         `json:"icon"`
}

// AddChainParams is the EIP-3085 wallet_addEthereumChain payload.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
	IconURLs          []string       `json:"iconUrls,omitempty"`
}
