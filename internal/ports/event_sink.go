package ports

import "github.com/bnema/arena-relay/internal/domain"

type EventSink interface {
	Emit(event domain.StreamEvent)
}

type EventSinkFunc func(event domain.StreamEvent)

func (f EventSinkFunc) Emit(event domain.StreamEvent) {
	f(event)
}
