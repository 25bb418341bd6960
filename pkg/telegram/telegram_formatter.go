package telegram

import (
	"fmt"
	"strings"

	"golang-leverage-trader/internal/trader/dto"
)

// FormatPositionOpenedMessage renders a trade-opened alert.
func FormatPositionOpenedMessage(p dto.Position) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🟢 *Position Opened:* `%s` %s\n", p.Symbol, strings.ToUpper(string(p.Direction))))
	b.WriteString(fmt.Sprintf("Entry: `%.4f`\n", p.EntryPrice))
	b.WriteString(fmt.Sprintf("Notional: `%.2f USD` @ `%.1fx`\n", p.Notional, p.Leverage))
	b.WriteString(fmt.Sprintf("Stop: `%.4f`  Target: `%.4f`", p.StopPrice, p.TakeProfitPrice))
	if p.TrailingStop {
		b.WriteString("\nTrailing stop enabled")
	}
	return b.String()
}

// FormatPositionClosedMessage renders a trade-closed alert.
func FormatPositionClosedMessage(p dto.Position, reason string) string {
	emoji := "🔴"
	if p.RealizedPnLPct > 0 {
		emoji = "🟢"
	}
	return fmt.Sprintf("%s *Position Closed:* `%s` %s\nReason: %s\nRealized PnL: `%+.2f%%`",
		emoji, p.Symbol, strings.ToUpper(string(p.Direction)), reason, p.RealizedPnLPct)
}

// FormatCycleRejectedMessage renders an admission-rejection alert.
func FormatCycleRejectedMessage(symbol string, reasons []string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚠️ *Trade Rejected:* `%s`\n", symbol))
	for _, r := range reasons {
		b.WriteString(fmt.Sprintf("• %s\n", r))
	}
	return strings.TrimRight(b.String(), "\n")
}
