package operation

import (
	"fmt"
)

// PoolBuilder makes the ordered actions of each flow. Adding a flow
// means adding a method here and a case to BuildPool.
type PoolBuilder interface {
	Redeem(p Params) []*Action
	ReturnWrongPayment(p Params) []*Action
	SendRaw(p Params) []*Action
}

func BuildPool(b PoolBuilder, p Params) ([]*Action, error) {
	var actions []*Action
	switch p.Type {
	case Redeem:
		actions = b.Redeem(p)
	case ReturnWrongPayment:
		actions = b.ReturnWrongPayment(p)
	case SendRaw:
		actions = b.SendRaw(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperationType, p.Type)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: empty pool for %s", ErrUnknownOperationType, p.Type)
	}
	return actions, nil
}
