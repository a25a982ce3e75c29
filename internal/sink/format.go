package sink

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/marko911/presale-pulse/internal/purchase"
)

// Tier labels a purchase by base token amount.
type Tier struct {
	Label string
	Min   float64
	Level int
}

// Emoji renders the tier intensity.
func (t Tier) Emoji() string {
	return strings.Repeat("🤑", t.Level)
}

// tiers is ordered from largest to smallest.
var tiers = []Tier{
	{Label: "WHALE", Min: 2_500_000, Level: 7},
	{Label: "SHARK", Min: 1_000_000, Level: 6},
	{Label: "DOLPHIN", Min: 500_000, Level: 5},
	{Label: "FISH", Min: 100_000, Level: 4},
	{Label: "SHRIMP", Min: 50_000, Level: 3},
	{Label: "PLANKTON", Min: 10_000, Level: 2},
	{Label: "DUST", Min: 0, Level: 1},
}

// TierFor classifies a base token amount.
func TierFor(tokens float64) Tier {
	for _, t := range tiers {
		if tokens >= t.Min {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// FormatNumber rounds n to an integer and groups thousands with commas.
func FormatNumber(n float64) string {
	s := strconv.FormatFloat(math.Round(n), 'f', 0, 64)

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// ShortAddress abbreviates a hex address as 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// FormatPaid renders the paid amount in its payment unit.
func FormatPaid(amount float64, method string) string {
	if method == purchase.PaymentETH {
		return fmt.Sprintf("%.4f ETH", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, method)
}

// Formatter renders chat alerts.
type Formatter struct {
	Token        string
	ExplorerURL  string
	BonusPercent int
	Stage        int
}

// Render returns a Slack mrkdwn alert for msg.
func (f Formatter) Render(msg Message) string {
	tier := TierFor(msg.TokenAmount)

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s ALERT!*\n\n", tier.Emoji(), tier.Label)
	fmt.Fprintf(&b, "💰 *%s* → *%s $%s*", FormatPaid(msg.PaidAmount, msg.PaymentMethod), FormatNumber(msg.TotalAmount), f.Token)
	if msg.PaymentMethod == purchase.PaymentETH && msg.USDValue > 0 {
		fmt.Fprintf(&b, " (~$%s)", FormatNumber(msg.USDValue))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "🎁 Bonus: +%s %s (%d%%)\n\n", FormatNumber(msg.BonusAmount), f.Token, f.BonusPercent)
	fmt.Fprintf(&b, "👤 `%s`\n", ShortAddress(msg.Buyer))
	if f.ExplorerURL != "" {
		fmt.Fprintf(&b, "🔗 <%s%s|Explorer>\n", f.ExplorerURL, msg.TxHash)
	}
	if f.Stage > 0 {
		fmt.Fprintf(&b, "\n⚡ Stage %d won't last. Get %sX tokens NOW.", f.Stage, f.multiplier())
	}
	return strings.TrimRight(b.String(), "\n")
}

// multiplier is the total tokens per base token, e.g. "3" for a 200% bonus.
func (f Formatter) multiplier() string {
	return strconv.FormatFloat(1+float64(f.BonusPercent)/100, 'f', -1, 64)
}
