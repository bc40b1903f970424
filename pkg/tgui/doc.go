// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builder
//   - Callback data helpers (section:action)
//   - HTML escaping for ParseMode="HTML"
package tgui
