package web

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/quieted/internal/model"
)

// displayDateLayout は画面表示用の日付書式（例: Jun 28, 2025）。
const displayDateLayout = "Jan 2, 2006"

// DisplayDate は日付キー（YYYY-MM-DD）を表示用に整形する。解析できない場合はそのまま返す。
func DisplayDate(date string) string {
	t, err := time.Parse(model.MemoDateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(displayDateLayout)
}

// RelativeTime は最終ログイン日時などを「何分前」の形式で表す。
// 1日以上前は日付のみを表示する。
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff/time.Hour))
	default:
		return t.Format(displayDateLayout)
	}
}

// greeting は挨拶に使う名前を返す。名（given name）がなければ表示名の最初の単語を使う。
func greeting(a *model.Account) string {
	if a.GivenName != nil && strings.TrimSpace(*a.GivenName) != "" {
		return *a.GivenName
	}
	if fields := strings.Fields(a.Name); len(fields) > 0 {
		return fields[0]
	}
	return a.Email
}
