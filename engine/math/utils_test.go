package math

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name         string
		f, low, high uint32
		want         uint32
	}{
		{"below", 100, 200, 4096, 200},
		{"inside", 1024, 200, 4096, 1024},
		{"above", 8192, 200, 4096, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.f, tt.low, tt.high); got != tt.want {
				t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.f, tt.low, tt.high, got, tt.want)
			}
		})
	}
	if got := Clamp(1.5, 0.0, 1.0); got != 1.0 {
		t.Errorf("Clamp(1.5, 0, 1) = %v", got)
	}
}
