package tgui

import "strings"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

// Data formats inline callback data as "section:action".
func Data(section, action string) string {
	return strings.TrimSpace(section) + ":" + strings.TrimSpace(action)
}

// ParseData splits callback data produced by Data.
// Telegram clients may prefix callback data with "\f"; it is stripped.
func ParseData(data string) (section, action string, ok bool) {
	data = strings.TrimPrefix(strings.TrimSpace(data), "\f")
	if data == "" || len(data) > MaxCallbackDataLen {
		return "", "", false
	}
	section, action, found := strings.Cut(data, ":")
	if !found || section == "" || action == "" {
		return "", "", false
	}
	return section, action, true
}
