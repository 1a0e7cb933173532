package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBLSSignVerify(t *testing.T) {
	km, err := GenerateKeyManager()
	require.NoError(t, err)

	msg := []byte("vote|7|prepare")
	sig, err := km.BLSSign(msg)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.NoError(t, BLSVerifySignature(km.BLSPublicKeyBytes(), msg, sig))
	assert.Error(t, BLSVerifySignature(km.BLSPublicKeyBytes(), []byte("other"), sig))

	other, err := GenerateKeyManager()
	require.NoError(t, err)
	assert.Error(t, BLSVerifySignature(other.BLSPublicKeyBytes(), msg, sig))
}

func TestBLSAggregate(t *testing.T) {
	msg := []byte("qc|3|commit")
	var pubs, sigs [][]byte
	for i := 0; i < 4; i++ {
		km, err := GenerateKeyManager()
		require.NoError(t, err)
		sig, err := km.BLSSign(msg)
		require.NoError(t, err)
		pubs = append(pubs, km.BLSPublicKeyBytes())
		sigs = append(sigs, sig)
	}

	agg, err := AggregateBLS(sigs)
	require.NoError(t, err)
	assert.NoError(t, BLSVerifyAggregate(pubs, msg, agg))

	// 少一个公钥时聚合验证失败
	assert.Error(t, BLSVerifyAggregate(pubs[:3], msg, agg))

	_, err = AggregateBLS(nil)
	assert.ErrorIs(t, err, ErrEmptyAggregate)
}

func TestBLSPublicKeyFromBytesRejectsGarbage(t *testing.T) {
	_, err := BLSPublicKeyFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidBLSPoint)
}
