package utils

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
)

const blsPubKeyCacheSize = 1024

var (
	ErrEmptyAggregate  = errors.New("bls: nothing to aggregate")
	ErrInvalidBLSPoint = errors.New("bls: invalid public key")
)

// 解析后的公钥缓存，验证者集合很小但验签频繁
var blsPubKeyCache, _ = lru.New(blsPubKeyCacheSize)

// BLSSign 使用 bn256 曲线对消息签名
func BLSSign(priv kyber.Scalar, msg []byte) ([]byte, error) {
	suite := bn256.NewSuite()
	return bls.Sign(suite, priv, msg)
}

// BLSPublicKeyFromBytes 反序列化 G2 公钥
func BLSPublicKeyFromBytes(b []byte) (kyber.Point, error) {
	if v, ok := blsPubKeyCache.Get(string(b)); ok {
		return v.(kyber.Point), nil
	}
	suite := bn256.NewSuite()
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBLSPoint, err)
	}
	blsPubKeyCache.Add(string(b), p)
	return p, nil
}

// BLSVerifySignature 验证单个签名
func BLSVerifySignature(pub []byte, msg, sig []byte) error {
	p, err := BLSPublicKeyFromBytes(pub)
	if err != nil {
		return err
	}
	return bls.Verify(bn256.NewSuite(), p, msg, sig)
}

// AggregateBLS 聚合同一消息上的多个签名
func AggregateBLS(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrEmptyAggregate
	}
	return bls.AggregateSignatures(bn256.NewSuite(), sigs...)
}

// BLSVerifyAggregate 用聚合公钥验证聚合签名
func BLSVerifyAggregate(pubs [][]byte, msg, aggSig []byte) error {
	if len(pubs) == 0 {
		return ErrEmptyAggregate
	}
	points := make([]kyber.Point, 0, len(pubs))
	for _, b := range pubs {
		p, err := BLSPublicKeyFromBytes(b)
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	suite := bn256.NewSuite()
	aggPub := bls.AggregatePublicKeys(suite, points...)
	return bls.Verify(suite, aggPub, msg, aggSig)
}
