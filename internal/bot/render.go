package bot

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"sitewatch/internal/monitor"
	"sitewatch/internal/netcheck"
	"sitewatch/pkg/tgui"
)

const (
	sectionWatch      = "watch"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionStatus      = "status"
)

const (
	msgAlreadySubscribed = "You are already subscribed!"
	msgSubscribed        = "Successfully subscribed to website monitoring!"
	msgNotSubscribed     = "You are not subscribed!"
	msgUnsubscribed      = "Successfully unsubscribed from website monitoring!"
	msgCapacity          = "Subscriber limit reached, try again later."
)

func dashboardMarkup(subscribed bool) *tele.ReplyMarkup {
	action := tgui.Btn("Subscribe", tgui.Data(sectionWatch, actionSubscribe))
	if subscribed {
		action = tgui.Btn("Unsubscribe", tgui.Data(sectionWatch, actionUnsubscribe))
	}
	status := tgui.Btn("View Status", tgui.Data(sectionWatch, actionStatus))
	return tgui.NewInline().Row(action, status).Markup()
}

func renderDashboard(monitors, subscribers int, refreshed bool) string {
	desc := "Subscribe for notifications, when any websites are available!"
	if refreshed {
		desc = "Monitor your favorite websites and get subscribe for notifications, when they're available!"
	}
	var b strings.Builder
	b.WriteString(tgui.B("Website Monitor Dashboard").String())
	b.WriteString("\n")
	b.WriteString(tgui.Esc(desc).String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %d websites\n", tgui.B("Active Monitors:"), monitors)
	fmt.Fprintf(&b, "%s %d users", tgui.B("Subscribers:"), subscribers)
	return b.String()
}

func renderStatus(urls []string, statuses map[string]monitor.Status) string {
	var b strings.Builder
	b.WriteString(tgui.B("Website Status").String())
	for _, u := range urls {
		b.WriteString("\n\n")
		b.WriteString(tgui.Code(u).String())
		b.WriteString("\n")
		b.WriteString(statusLabel(statuses[u]))
	}
	return b.String()
}

func statusLabel(st monitor.Status) string {
	switch st {
	case monitor.StatusUp:
		return "🟢 Online"
	case monitor.StatusDown:
		return "🔴 Offline"
	default:
		return "⚪ Unknown"
	}
}

func statusGlyph(st monitor.Status) string {
	switch st {
	case monitor.StatusUp:
		return "🟢"
	case monitor.StatusDown:
		return "🔴"
	default:
		return "⚪"
	}
}

func renderStats(uptime time.Duration, st monitor.Stats, subscribers int, urls []string, statuses map[string]monitor.Status) string {
	var b strings.Builder
	b.WriteString(tgui.B("Monitor Statistics").String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Uptime: %s\n", uptime.Round(time.Second))
	fmt.Fprintf(&b, "Check cycles: %d\n", st.Cycles)
	if !st.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "Last cycle: %s (took %s)\n", st.LastCycleAt.Format("15:04:05"), st.LastCycleTook.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Subscribers: %d users", subscribers)
	for _, u := range urls {
		b.WriteString("\n")
		b.WriteString(statusGlyph(statuses[u]))
		b.WriteString(" ")
		b.WriteString(tgui.Code(u).String())
	}
	return b.String()
}

func renderNetcheck(rep *netcheck.Report) string {
	var b strings.Builder
	b.WriteString(tgui.B("Connectivity Check").String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Latency: %s\n", rep.Latency.Round(time.Millisecond))
	fmt.Fprintf(&b, "Download: %.1f Mbit/s\n", rep.DownloadMbps)
	fmt.Fprintf(&b, "Upload: %.1f Mbit/s\n", rep.UploadMbps)
	if rep.ServerName != "" {
		server := rep.ServerName
		if rep.Country != "" {
			server += " (" + rep.Country + ")"
		}
		fmt.Fprintf(&b, "Server: %s\n", tgui.Esc(server))
	}
	if rep.ISP != "" {
		fmt.Fprintf(&b, "ISP: %s\n", tgui.Esc(rep.ISP))
	}
	fmt.Fprintf(&b, "Took: %s", rep.Took.Round(time.Second))
	return b.String()
}
