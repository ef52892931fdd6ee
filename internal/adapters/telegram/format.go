package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/utils"
)

// FormatSellAlert renders the channel message for a sell trade.
func FormatSellAlert(a *domain.SellAlert) string {
	var b strings.Builder
	b.WriteString("🔴 <b>SELL detected</b>\n")
	fmt.Fprintf(&b, "Market: <code>%s</code>\n", html.EscapeString(a.Market))
	fmt.Fprintf(&b, "Time: %s\n", a.ExecutedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Price: %s\n", a.Price.String())
	fmt.Fprintf(&b, "Size: %s\n", a.Size.String())
	fmt.Fprintf(&b, "USD Size: <b>%s</b>", utils.FormatUSD(a.USDValue))
	if a.ReferencePrice != nil {
		fmt.Fprintf(&b, "\nReference price: %s", a.ReferencePrice.String())
	}
	return b.String()
}

// maxMessageLen is the Telegram limit on message text.
const maxMessageLen = 4096

// FormatReport renders the channel message for a window report. Market lines that would
// push the message past maxMessageLen are left out and counted in a trailing note.
func FormatReport(r *domain.Report) string {
	header := fmt.Sprintf("📊 <b>Report</b> %s - %s UTC\n",
		r.Window.Start.UTC().Format("2006-01-02 15:04"), r.Window.End.UTC().Format("15:04"))
	if r.NoActivity() {
		return header + "No activity in this window."
	}
	totals := fmt.Sprintf("Total Buy: %s, Total Sell: %s", utils.FormatUSD(r.TotalBuyUSD), utils.FormatUSD(r.TotalSellUSD))

	var b strings.Builder
	b.WriteString(header)
	budget := maxMessageLen - utf8.RuneCountInString(header) - utf8.RuneCountInString(totals) -
		utf8.RuneCountInString(omittedNote(len(r.Markets)))
	shown := 0
	for _, m := range r.Markets {
		line := fmt.Sprintf("<code>%s</code>: buy %s (%d), sell %s (%d)\n",
			html.EscapeString(m.Market), utils.FormatUSD(m.BuyUSD), m.BuyCount, utils.FormatUSD(m.SellUSD), m.SellCount)
		n := utf8.RuneCountInString(line)
		if n > budget {
			break
		}
		budget -= n
		b.WriteString(line)
		shown++
	}
	if omitted := len(r.Markets) - shown; omitted > 0 {
		b.WriteString(omittedNote(omitted))
	}
	b.WriteString(totals)
	return b.String()
}

func omittedNote(n int) string {
	return fmt.Sprintf("...and %d more markets\n", n)
}
