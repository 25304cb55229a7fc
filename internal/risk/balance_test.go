package risk

import (
	"testing"

	"polyalgo/internal/order"
)

func TestCheckBalance_BuyRequiresNotional(t *testing.T) {
	if result := CheckBalance(order.SideBuy, 10, 0.5, 5); !result.Valid {
		t.Errorf("expected exact collateral to pass, got %s", result.Error())
	}
	if result := CheckBalance(order.SideBuy, 10, 0.5, 4.99); result.Valid {
		t.Errorf("expected insufficient collateral to fail")
	}
}

func TestCheckBalance_SellRequiresShares(t *testing.T) {
	if result := CheckBalance(order.SideSell, 10, 0.5, 10); !result.Valid {
		t.Errorf("expected exact share balance to pass, got %s", result.Error())
	}
	if result := CheckBalance(order.SideSell, 10, 0.5, 9); result.Valid {
		t.Errorf("expected insufficient shares to fail")
	}
	// 卖出只看份额，价格不参与。
	if result := CheckBalance(order.SideSell, 10, 0.99, 10); !result.Valid {
		t.Errorf("price must not affect sell balance check, got %s", result.Error())
	}
}
