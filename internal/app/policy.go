package app

import "github.com/dkeye/meetsync/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickClient
)

type Policy interface {
	OnBackPressure(id domain.Identity) BackpressureAction
}

// SimplePolicy kicks any client whose send queue is full.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.Identity) BackpressureAction {
	return KickClient
}
