package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const testSecretKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

var (
	testFactory        = common.HexToAddress("0xaB45c5A4B0c941a2F231C04C3f49182e1A254052")
	testImplementation = common.HexToAddress("0x44953Ab2E88391176576d49cA23df0B8AcCbFC9A")
)

func TestDeriveKey_KnownVector(t *testing.T) {
	_, eoa, err := DeriveKey(testSecretKey)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}
	// 私钥 0x...01 对应的以太坊地址为公开已知值。
	want := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	if eoa != want {
		t.Errorf("unexpected EOA: got %s want %s", eoa.Hex(), want.Hex())
	}
}

func TestDeriveKey_RejectsInvalidKey(t *testing.T) {
	if _, _, err := DeriveKey("not-a-key"); err == nil {
		t.Fatalf("expected error for malformed private key")
	}
}

func TestProxyAddress_Deterministic(t *testing.T) {
	_, eoa, err := DeriveKey(testSecretKey)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}

	first := ProxyAddress(testFactory, testImplementation, eoa)
	second := ProxyAddress(testFactory, testImplementation, eoa)
	if first != second {
		t.Errorf("proxy derivation must be deterministic: %s != %s", first.Hex(), second.Hex())
	}
	if first == (common.Address{}) {
		t.Errorf("proxy address must not be zero")
	}

	other := ProxyAddress(testFactory, testImplementation, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	if other == first {
		t.Errorf("different owners must derive different proxies")
	}
}

func TestManager_InitializeFallsBackToCreate(t *testing.T) {
	client := &fakeCredClient{deriveErr: errors.New("api key not found")}
	m := NewManager(testFactory, testImplementation, time.Hour, client, nil)

	sess, err := m.Initialize(context.Background(), testSecretKey, "")
	if err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if sess.Creds.Key != "created-key" {
		t.Errorf("expected credentials from create fallback, got %q", sess.Creds.Key)
	}
	if client.deriveCalls != 1 || client.createCalls != 1 {
		t.Errorf("expected derive then create, got derive=%d create=%d", client.deriveCalls, client.createCalls)
	}
	if sess.Proxy == (common.Address{}) {
		t.Errorf("expected derived proxy address")
	}
}

func TestManager_InitializeHonorsKnownProxy(t *testing.T) {
	known := "0x00000000000000000000000000000000000000bb"
	m := NewManager(testFactory, testImplementation, time.Hour, &fakeCredClient{}, nil)

	sess, err := m.Initialize(context.Background(), testSecretKey, known)
	if err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if sess.Proxy != common.HexToAddress(known) {
		t.Errorf("expected configured proxy %s, got %s", known, sess.Proxy.Hex())
	}

	if _, err := m.Initialize(context.Background(), testSecretKey, "junk"); err == nil {
		t.Errorf("expected error for malformed proxy override")
	}
}

func TestManager_SessionExpiresAfterTTL(t *testing.T) {
	m := NewManager(testFactory, testImplementation, time.Hour, &fakeCredClient{}, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }

	if _, err := m.Initialize(context.Background(), testSecretKey, ""); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	now = now.Add(time.Hour + time.Second)
	if sess := m.Active(); sess != nil {
		t.Fatalf("expected session to expire after TTL")
	}
	// 过期即清除，之后的访问继续返回空。
	if sess := m.Active(); sess != nil {
		t.Errorf("expected cleared session to stay nil")
	}
}

func TestManager_AccessRefreshesActivity(t *testing.T) {
	m := NewManager(testFactory, testImplementation, time.Hour, &fakeCredClient{}, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }

	if _, err := m.Initialize(context.Background(), testSecretKey, ""); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	// 每次访问间隔 50 分钟，均小于 TTL，会话应持续续期。
	for i := 0; i < 3; i++ {
		now = now.Add(50 * time.Minute)
		if sess := m.Active(); sess == nil {
			t.Fatalf("expected session to stay alive on access %d", i+1)
		}
	}
}

func TestManager_ClearIsIdempotent(t *testing.T) {
	m := NewManager(testFactory, testImplementation, time.Hour, &fakeCredClient{}, nil)
	if _, err := m.Initialize(context.Background(), testSecretKey, ""); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	m.Clear()
	m.Clear()
	if sess := m.Active(); sess != nil {
		t.Errorf("expected no session after Clear")
	}
	if _, _, active := m.Status(); active {
		t.Errorf("expected inactive status after Clear")
	}
}

type fakeCredClient struct {
	deriveErr   error
	deriveCalls int
	createCalls int
}

func (f *fakeCredClient) DeriveCredentials(ctx context.Context, key *ecdsa.PrivateKey) (Credentials, error) {
	f.deriveCalls++
	if f.deriveErr != nil {
		return Credentials{}, f.deriveErr
	}
	return Credentials{Key: "derived-key", Secret: "c2VjcmV0", Passphrase: "pass"}, nil
}

func (f *fakeCredClient) CreateCredentials(ctx context.Context, key *ecdsa.PrivateKey) (Credentials, error) {
	f.createCalls++
	return Credentials{Key: "created-key", Secret: "c2VjcmV0", Passphrase: "pass"}, nil
}
