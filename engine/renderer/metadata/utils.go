package metadata

import (
	"fmt"
	"strings"
)

func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

func unmarshalEnum[T comparable](text []byte, names map[T]string, out *T) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for v, name := range names {
		if name == s {
			*out = v
			return nil
		}
	}
	return fmt.Errorf("unknown value %q", s)
}
