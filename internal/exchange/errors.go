package exchange

import "strings"

// terminalMarkers 为终结性拒单原因特征，命中后订单转入 FAILED，
// 不再参与后续轮询。
var terminalMarkers = []string{
	"invalid market",
	"market not found",
	"market closed",
	"market resolved",
	"token not found",
	"invalid token",
}

// IsTerminalRejection 判断交易所拒单原因是否为终结性错误。
func IsTerminalRejection(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
