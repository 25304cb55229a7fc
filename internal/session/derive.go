package session

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-1167 最小代理初始化字节码，中间拼接实现合约地址。
var (
	proxyInitCodePrefix = hexutil.MustDecode("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	proxyInitCodeSuffix = hexutil.MustDecode("0x5af43d82803e903d91602b57fd5bf3")
)

// DeriveKey 从十六进制私钥推导签名私钥与外部账户地址。
func DeriveKey(secretKey string) (*ecdsa.PrivateKey, common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(secretKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("session: 解析私钥失败: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// ProxyAddress 按反事实部署方案推导代理钱包地址：
// CREATE2(factory, salt=keccak(eoa), keccak(最小代理初始化字节码))。
// 同样的输入必须与工厂合约链上推导逐位一致。
func ProxyAddress(factory, implementation, eoa common.Address) common.Address {
	salt := crypto.Keccak256Hash(eoa.Bytes())

	initCode := make([]byte, 0, len(proxyInitCodePrefix)+common.AddressLength+len(proxyInitCodeSuffix))
	initCode = append(initCode, proxyInitCodePrefix...)
	initCode = append(initCode, implementation.Bytes()...)
	initCode = append(initCode, proxyInitCodeSuffix...)

	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}
