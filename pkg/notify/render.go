package notify

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"foreman-pm-backend/pkg/models"
)

const (
	timeLayout        = "02.01.2006 15:04"
	descriptionLimit  = 100
	noActionDataLabel = "No additional data"
)

// actionDataLabels renders the keys gated payloads commonly carry.
var actionDataLabels = map[string]string{
	"title":        "📝 <b>Title:</b>",
	"description":  "📄 <b>Description:</b>",
	"priority":     "⚡ <b>Priority:</b>",
	"deadline":     "⏰ <b>Deadline:</b>",
	"project_name": "📂 <b>Project:</b>",
	"project_id":   "📂 <b>Project ID:</b>",
	"name":         "🏷 <b>Name:</b>",
	"color":        "🎨 <b>Color:</b>",
	"user_id":      "👤 <b>User ID:</b>",
	"role":         "🔑 <b>Role:</b>",
	"task_id":      "🗂 <b>Task ID:</b>",
	"assigned_to":  "👷 <b>Assignee ID:</b>",
	"status":       "📌 <b>Status:</b>",
}

// FormatActionData renders a stored payload for a chat message. Object keys
// are sorted so the output is stable; keys without a label fall back to a
// plain "key: value" line. Anything that is not a JSON object is shown as is.
func FormatActionData(raw []byte) string {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return noActionDataLabel
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		var other any
		if json.Unmarshal(raw, &other) == nil && other != nil {
			return html.EscapeString(formatValue(other))
		}
		return html.EscapeString(string(raw))
	}
	if len(data) == 0 {
		return noActionDataLabel
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := data[k]
		if v == nil {
			continue
		}
		value := formatValue(v)
		if k == "description" {
			value = truncateRunes(value, descriptionLimit)
		}
		value = html.EscapeString(value)
		if label, ok := actionDataLabels[k]; ok {
			lines = append(lines, label+" "+value)
		} else {
			lines = append(lines, fmt.Sprintf("<b>%s:</b> %s", html.EscapeString(k), value))
		}
	}
	if len(lines) == 0 {
		return noActionDataLabel
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

func fullName(u *models.User) string {
	if u == nil {
		return "unknown"
	}
	return html.EscapeString(u.DisplayName())
}

func approvalRequestedText(requester *models.User, a *models.ApprovalRequest) string {
	return fmt.Sprintf(`🔔 <b>New approval request</b>

👤 <b>From:</b> %s
📋 <b>Action:</b> %s
📅 <b>Time:</b> %s

💬 <b>Details:</b>
%s

Open the admin panel to review it.`,
		fullName(requester),
		a.ActionType.Label(),
		a.CreatedAt.Format(timeLayout),
		FormatActionData(a.ActionData))
}

func approvalResolvedText(reviewer *models.User, a *models.ApprovalRequest) string {
	emoji, verb := "❌", "rejected"
	if a.Status == models.ApprovalApproved {
		emoji, verb = "✅", "approved"
	}
	reviewed := "not set"
	if a.ReviewedAt != nil {
		reviewed = a.ReviewedAt.Format(timeLayout)
	}
	text := fmt.Sprintf(`%s <b>Approval request %s</b>

📋 <b>Action:</b> %s
👤 <b>Reviewed by:</b> %s
📅 <b>Time:</b> %s`,
		emoji, verb, a.ActionType.Label(), fullName(reviewer), reviewed)
	if a.ReviewComment != nil && *a.ReviewComment != "" {
		text += "\n\n💬 <b>Comment:</b>\n" + html.EscapeString(*a.ReviewComment)
	}
	return text
}

func userProvisionedText(user, addedBy *models.User) string {
	return fmt.Sprintf(`🎉 <b>Welcome to the project management system!</b>

👤 <b>Added by:</b> %s
🔑 <b>Your role:</b> %s
📱 <b>Telegram ID:</b> %d

You can now use the bot to work with projects.`,
		fullName(addedBy), user.Role.Label(), user.TelegramID)
}

func userStatusText(user *models.User) string {
	if user.IsActive {
		return "✅ <b>Account status changed</b>\n\nYour account has been activated.\n\nAll features are available to you again."
	}
	return "❌ <b>Account status changed</b>\n\nYour account has been deactivated.\n\nContact the administrator to regain access."
}
