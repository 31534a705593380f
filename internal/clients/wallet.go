package clients

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// LocalWallet holds the signing key of the single tracked wallet and builds
// the auxiliary bundle transactions (relay tip, accounting memo).
type LocalWallet struct {
	address string
	key     ed25519.PrivateKey
	tipTo   string
}

// NewLocalWallet builds a wallet from a base64-encoded ed25519 private key.
func NewLocalWallet(address, privateKeyB64, tipAccount string) (*LocalWallet, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode wallet private key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("wallet private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	return &LocalWallet{address: address, key: ed25519.PrivateKey(raw), tipTo: tipAccount}, nil
}

// Address returns the wallet address.
func (w *LocalWallet) Address() string {
	return w.address
}

type transferPayload struct {
	Blockhash string `json:"blockhash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Lamports  string `json:"lamports"`
}

// TipTransaction builds the relay tip payment on the shared blockhash.
func (w *LocalWallet) TipTransaction(blockhash string, lamports decimal.Decimal) ([]byte, error) {
	payload, err := json.Marshal(transferPayload{
		Blockhash: blockhash,
		From:      w.address,
		To:        w.tipTo,
		Lamports:  lamports.Truncate(0).String(),
	})
	return payload, errors.Wrap(err, "encode tip transaction")
}

type memoPayload struct {
	Blockhash string `json:"blockhash"`
	From      string `json:"from"`
	Memo      string `json:"memo"`
}

// AccountingTransaction builds the volume-accounting memo on the shared
// blockhash.
func (w *LocalWallet) AccountingTransaction(blockhash string, memo string) ([]byte, error) {
	payload, err := json.Marshal(memoPayload{
		Blockhash: blockhash,
		From:      w.address,
		Memo:      memo,
	})
	return payload, errors.Wrap(err, "encode accounting transaction")
}

type signedTx struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
	Signer    string `json:"signer"`
}

// Sign signs every transaction of the bundle with the wallet key.
func (w *LocalWallet) Sign(txs [][]byte) ([][]byte, error) {
	signed := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		sig := ed25519.Sign(w.key, tx)
		payload, err := json.Marshal(signedTx{Payload: tx, Signature: sig, Signer: w.address})
		if err != nil {
			return nil, errors.Wrap(err, "encode signed transaction")
		}
		signed = append(signed, payload)
	}
	return signed, nil
}
