package tgui

import "fmt"

// Page is one window over a list; Index is 0-based and clamped.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int // 0-based offset of Items[0]
	Total   int
	HasPrev bool
	HasNext bool
}

func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := max(1, (total+size-1)/size)
	index = min(max(index, 0), pages-1)
	start := min(index*size, total)
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Pages:   pages,
		From:    start,
		Total:   total,
		HasPrev: index > 0,
		HasNext: end < total,
	}
}

// Label is e.g. "Halaman 2/3 • 11-20 dari 25".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Halaman 1/1"
	}
	return fmt.Sprintf("Halaman %d/%d • %d-%d dari %d", p.Index+1, p.Pages, p.From+1, p.From+len(p.Items), p.Total)
}
