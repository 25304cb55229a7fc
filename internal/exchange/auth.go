package exchange

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"

	"polyalgo/internal/session"
)

// applyL1Headers 为凭证管理接口附加一级签名头：
// 以私钥对 "timestamp:nonce" 的 EIP-191 摘要签名。
func applyL1Headers(req *http.Request, key *ecdsa.PrivateKey, timestamp int64, nonce int64) error {
	message := fmt.Sprintf("%d:%d", timestamp, nonce)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("exchange: L1 签名失败: %w", err)
	}
	// 恢复标识符按以太坊惯例偏移 27。
	sig[64] += 27

	req.Header.Set("POLY_ADDRESS", crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set("POLY_SIGNATURE", "0x"+fmt.Sprintf("%x", sig))
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))
	return nil
}

// applyL2Headers 为交易接口附加二级 HMAC 签名头：
// 以 API secret 对 timestamp+method+path+body 做 HMAC-SHA256。
func applyL2Headers(req *http.Request, address string, creds session.Credentials, timestamp int64, method, path, body string) error {
	sig, err := hmacSignature(creds.Secret, timestamp, method, path, body)
	if err != nil {
		return err
	}

	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_API_KEY", creds.Key)
	req.Header.Set("POLY_PASSPHRASE", creds.Passphrase)
	return nil
}

func hmacSignature(secret string, timestamp int64, method, path, body string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("exchange: 解码 API secret 失败: %w", err)
	}

	message := strconv.FormatInt(timestamp, 10) + method + path + body
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
