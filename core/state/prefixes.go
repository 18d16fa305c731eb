package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

// RecordKind namespaces program records so that an address written as one
// kind can never be decoded as another.
type RecordKind string

const (
	KindGlobalState  RecordKind = "record/global"
	KindBuyerCounter RecordKind = "record/counter"
	KindAgreement    RecordKind = "record/agreement"
)

var (
	balancePrefix = []byte("balance/")
	kvPrefix      = []byte("kv/")
)

func (k RecordKind) valid() bool {
	switch k {
	case KindGlobalState, KindBuyerCounter, KindAgreement:
		return true
	default:
		return false
	}
}

func recordKey(kind RecordKind, addr solana.PublicKey) []byte {
	buf := make([]byte, 0, len(kind)+1+len(addr))
	buf = append(buf, kind...)
	buf = append(buf, '/')
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr solana.PublicKey) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	buf := make([]byte, 0, len(kvPrefix)+len(key))
	buf = append(buf, kvPrefix...)
	buf = append(buf, key...)
	return ethcrypto.Keccak256(buf)
}
