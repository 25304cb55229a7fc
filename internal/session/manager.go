package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrNoSession 表示当前没有可用的交易会话，需要外部重新初始化。
var ErrNoSession = errors.New("session: no active session")

// DefaultTTL 为会话闲置过期时间。
const DefaultTTL = time.Hour

// Credentials 为交易 API 凭证，仅存在于进程内存。
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Session 为当前身份的签名会话。Key 不会写入任何持久化存储。
type Session struct {
	EOA          common.Address
	Proxy        common.Address
	Creds        Credentials
	Key          *ecdsa.PrivateKey
	CreatedAt    time.Time
	LastActivity time.Time
}

// CredentialClient 抽象凭证获取接口，由交易所客户端实现。
type CredentialClient interface {
	DeriveCredentials(ctx context.Context, key *ecdsa.PrivateKey) (Credentials, error)
	CreateCredentials(ctx context.Context, key *ecdsa.PrivateKey) (Credentials, error)
}

// Manager 持有进程内唯一的交易会话，负责初始化、过期与清除。
// 过期检查发生在每一次访问上，而不是只在创建时。
type Manager struct {
	mu             sync.Mutex
	ttl            time.Duration
	factory        common.Address
	implementation common.Address
	creds          CredentialClient
	clock          func() time.Time
	logger         *zap.Logger

	sess *Session
}

// NewManager 创建会话管理器。
func NewManager(factory, implementation common.Address, ttl time.Duration, creds CredentialClient, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:            ttl,
		factory:        factory,
		implementation: implementation,
		creds:          creds,
		clock:          func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// Initialize 从私钥建立新会话：推导 EOA 与代理地址，先尝试派生
// 既有 API 凭证，失败时创建新凭证。会话只保存在内存中。
func (m *Manager) Initialize(ctx context.Context, secretKey, knownProxy string) (*Session, error) {
	key, eoa, err := DeriveKey(secretKey)
	if err != nil {
		return nil, err
	}

	var proxy common.Address
	if knownProxy != "" {
		if !common.IsHexAddress(knownProxy) {
			return nil, fmt.Errorf("session: 无效的代理地址 %q", knownProxy)
		}
		proxy = common.HexToAddress(knownProxy)
	} else {
		proxy = ProxyAddress(m.factory, m.implementation, eoa)
	}

	creds, err := m.creds.DeriveCredentials(ctx, key)
	if err != nil {
		m.logger.Info("派生既有凭证失败，尝试创建新凭证", zap.Error(err))
		creds, err = m.creds.CreateCredentials(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("session: 获取 API 凭证失败: %w", err)
		}
	}

	now := m.clock()
	sess := &Session{
		EOA:          eoa,
		Proxy:        proxy,
		Creds:        creds,
		Key:          key,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	m.logger.Info("交易会话已建立",
		zap.String("eoa", eoa.Hex()),
		zap.String("proxy", proxy.Hex()),
	)

	return snapshot(sess), nil
}

// Active 返回当前会话，过期或未初始化时返回 nil 并自动清空。
// 每一次成功访问都会刷新 LastActivity。
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return nil
	}

	now := m.clock()
	if now.Sub(m.sess.LastActivity) > m.ttl {
		m.logger.Info("交易会话已过期，自动清除",
			zap.Time("last_activity", m.sess.LastActivity))
		m.sess = nil
		return nil
	}

	m.sess.LastActivity = now
	return snapshot(m.sess)
}

// Clear 丢弃全部内存会话状态，可重复调用。
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
}

// Status 返回读模型所需的会话概要。
func (m *Manager) Status() (eoa, proxy string, active bool) {
	sess := m.Active()
	if sess == nil {
		return "", "", false
	}
	return sess.EOA.Hex(), sess.Proxy.Hex(), true
}

func snapshot(s *Session) *Session {
	cp := *s
	return &cp
}
