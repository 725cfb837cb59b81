package crypto

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestAttestRoundTrip(t *testing.T) {
	require := require.New(t)

	a, err := NewAttestor("0x" + testKey)
	require.NoError(err)

	sig, err := a.Attest("trade-1", "automated_inspection")
	require.NoError(err)
	require.Len(sig, 2+130)

	addr, err := RecoverAttestor("trade-1", "automated_inspection", sig)
	require.NoError(err)
	require.Equal(a.Address(), addr)

	other, err := RecoverAttestor("trade-2", "automated_inspection", sig)
	require.NoError(err)
	require.NotEqual(a.Address(), other)
}

func TestRecoverAttestorRejectsMalformed(t *testing.T) {
	_, err := RecoverAttestor("t", "buyer", "0xzz")
	require.Error(t, err)
	_, err = RecoverAttestor("t", "buyer", "0xabcd")
	require.Error(t, err)
}

func TestSealOpenKey(t *testing.T) {
	require := require.New(t)

	blob, err := SealKey(testKey, "hunter2")
	require.NoError(err)

	got, err := OpenKey(blob, "hunter2")
	require.NoError(err)
	require.Equal(testKey, got)

	_, err = OpenKey(blob, "wrong")
	require.Error(err)

	_, err = SealKey("abcd", "pw")
	require.Error(err)
	_, err = SealKey(testKey, "")
	require.Error(err)
}

func TestKeySourceResolve(t *testing.T) {
	require := require.New(t)

	k, err := KeySource{}.Resolve()
	require.NoError(err)
	require.Empty(k)

	k, err = KeySource{RawKey: "0x" + testKey}.Resolve()
	require.NoError(err)
	require.Equal(testKey, k)

	blob, err := SealKey(testKey, "pw")
	require.NoError(err)
	path := filepath.Join(t.TempDir(), "attestor.json")
	require.NoError(os.WriteFile(path, blob, 0o600))

	k, err = KeySource{KeyFile: path, Password: "pw"}.Resolve()
	require.NoError(err)
	require.Equal(testKey, k)

	pk, err := ethcrypto.HexToECDSA(k)
	require.NoError(err)
	require.NotNil(pk)
}

func TestRequestSigner(t *testing.T) {
	require := require.New(t)
	s := &RequestSigner{KeyID: "key-123", Secret: "s3cret"}

	h := s.HeadersAt("POST", "/v1/documents", `{"url":"x"}`, 1700000000)
	require.Equal("key-123", h[HeaderKeyID])
	require.Equal("1700000000", h[HeaderTimestamp])
	require.True(s.Verify("POST", "/v1/documents", `{"url":"x"}`, "1700000000", h[HeaderSignature]))
	require.False(s.Verify("POST", "/v1/documents", `{"url":"y"}`, "1700000000", h[HeaderSignature]))
	require.Equal("RequestSigner{key=key-****, secret=s3cr****}", s.String())
}
