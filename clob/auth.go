package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// CLOB EIP712 认证域
	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"
)

// EIP712 type hash（只算一次）
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func (c *Client) authDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(c.chainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth 对 ClobAuth 类型数据做 L1 签名（派生 API 凭证用）
func (c *Client) signClobAuth(timestamp string, nonce int64) (string, error) {
	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(c.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, c.authDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), c.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig), nil
}

// DeriveCreds 通过 L1 签名派生 API 凭证（启动时调用一次，结果缓存）
func (c *Client) DeriveCreds(ctx context.Context) error {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	if c.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.signClobAuth(ts, 0)
	if err != nil {
		return fmt.Errorf("L1 签名失败: %w", err)
	}

	var creds ApiKeyCreds
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("POLY_ADDRESS", c.address.Hex()).
		SetHeader("POLY_SIGNATURE", sig).
		SetHeader("POLY_TIMESTAMP", ts).
		SetHeader("POLY_NONCE", "0").
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return fmt.Errorf("derive-api-key 请求失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("derive-api-key 状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	c.creds = &creds
	return nil
}

// buildHmacSignature 构建 L2 HMAC-SHA256 签名（base64url）
func buildHmacSignature(secret string, timestamp int64, method, requestPath string, body string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + strings.ToUpper(method) + requestPath + body

	// secret 是 base64url 格式
	sanitized := strings.ReplaceAll(secret, "-", "+")
	sanitized = strings.ReplaceAll(sanitized, "_", "/")
	keyData, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sigBase64 := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sigURLSafe := strings.ReplaceAll(sigBase64, "+", "-")
	sigURLSafe = strings.ReplaceAll(sigURLSafe, "/", "_")
	return sigURLSafe, nil
}

// l2Headers 构建已认证请求头（每次请求重新生成，保证时间戳新鲜）
func (c *Client) l2Headers(method, path, body string) (map[string]string, error) {
	c.credsMu.Lock()
	creds := c.creds
	c.credsMu.Unlock()
	if creds == nil {
		return nil, fmt.Errorf("API 凭证尚未派生")
	}

	ts := time.Now().Unix()
	sig, err := buildHmacSignature(creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    c.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(ts, 10),
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}
