package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// attestationPrefix domain-separates consensus attestations from any other
// secp256k1 signature produced with the same key.
const attestationPrefix = "tradekernel:consensus:"

// AttestationDigest is keccak256 over the canonical attestation message for
// a party's consensus signature on a trade.
func AttestationDigest(tradeID, party string) []byte {
	return ethcrypto.Keccak256([]byte(attestationPrefix + tradeID + ":" + party))
}

// Attestor signs consensus attestations with a secp256k1 key.
type Attestor struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttestor creates an Attestor from a hex-encoded private key.
func NewAttestor(privateKeyHex string) (*Attestor, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attest: invalid private key: %w", err)
	}
	return &Attestor{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address attestations recover to.
func (a *Attestor) Address() common.Address {
	return a.address
}

// Attest signs the attestation digest and returns a 0x-prefixed 65-byte
// signature with v in {27,28}.
func (a *Attestor) Attest(tradeID, party string) (string, error) {
	sig, err := ethcrypto.Sign(AttestationDigest(tradeID, party), a.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/attest: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAttestor returns the address that produced sigHex over the
// attestation for tradeID and party.
func RecoverAttestor(tradeID, party, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/attest: signature is not hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/attest: signature is %d bytes, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(AttestationDigest(tradeID, party), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/attest: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
