package inventory

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// TitleKey: 別名検索用のキー（NFC 正規化・大文字小文字の畳み込み・空白の圧縮）。
// "O  Cortiço" と "o cortiço" は同じキーになる
func TitleKey(title string) string {
	s := norm.NFC.String(title)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
