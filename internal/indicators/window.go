// Package indicators computes technical indicators over rolling price windows.
package indicators

import "sync"

// Window keeps the most recent prices per symbol.
type Window struct {
	mu     sync.Mutex
	size   int
	prices map[string][]float64
}

// NewWindow keeps up to size prices per symbol.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{size: size, prices: make(map[string][]float64)}
}

// Push appends price and returns a copy of the symbol's window, oldest first.
func (w *Window) Push(symbol string, price float64) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	arr := append(w.prices[symbol], price)
	if len(arr) > w.size {
		arr = arr[len(arr)-w.size:]
	}
	w.prices[symbol] = arr
	return append([]float64(nil), arr...)
}

// Len returns how many prices are held for symbol.
func (w *Window) Len(symbol string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prices[symbol])
}
