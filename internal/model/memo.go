package model

import "time"

// MemoDateLayout はメモの日付キーの書式。タイムゾーンを持たない暦日として扱う。
const MemoDateLayout = "2006-01-02"

// Memo は1日1件の日記エントリを表す。
// (AccountID, Date) の組で一意になる。
type Memo struct {
	ID        int64
	AccountID int64
	Date      string
	Title     string
	Link      *string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoInput はメモ保存時の入力値。
type MemoInput struct {
	Date    string
	Title   string
	Link    *string
	Content string
}
