package ecs

import (
	"fmt"
	"strconv"
	"strings"
)

// UID is the persisted identity of an entity. Zero is never assigned.
type UID int64

const (
	NoUID UID = 0

	// DefaultFakeBase starts the range of protocol-only ids. Persisted ids
	// never reach it.
	DefaultFakeBase UID = 1 << 40
)

func (u UID) String() string { return "#" + strconv.FormatInt(int64(u), 10) }

// ParseUID accepts "#123", "123" or "0x7b".
func ParseUID(s string) (UID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil || n <= 0 {
		return NoUID, fmt.Errorf("invalid uid %q", s)
	}
	return UID(n), nil
}

// Point is a ground position: tile coordinates, height and map number.
type Point struct {
	X, Y int32
	Z    int8
	M    uint8
}

func (p Point) Valid() bool { return p.X >= 0 && p.Y >= 0 }

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", p.X, p.Y, p.Z, p.M)
}

// ParsePoint accepts "(x,y,z,m)"; trailing components may be omitted.
func ParsePoint(s string) (Point, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return Point{}, fmt.Errorf("invalid point %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) < 2 || len(parts) > 4 {
		return Point{}, fmt.Errorf("invalid point %q", s)
	}
	var v [4]int64
	bits := [4]int{32, 32, 8, 9}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 0, bits[i])
		if err != nil {
			return Point{}, fmt.Errorf("invalid point %q: %w", s, err)
		}
		v[i] = n
	}
	if v[3] < 0 || v[3] > 255 {
		return Point{}, fmt.Errorf("invalid point %q: map out of range", s)
	}
	return Point{X: int32(v[0]), Y: int32(v[1]), Z: int8(v[2]), M: uint8(v[3])}, nil
}
