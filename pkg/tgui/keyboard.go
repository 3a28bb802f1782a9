package tgui

import kit "castbot/internal/transport"

// Inline builds inline keyboard rows.
type Inline struct {
	rows [][]kit.Button
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

// Rows returns the rows built so far.
func (i *Inline) Rows() [][]kit.Button { return i.rows }

// Btn creates a callback button with raw callback data.
func Btn(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }

// URLBtn creates a URL button.
func URLBtn(text, url string) kit.Button { return kit.Button{Text: text, URL: url} }
