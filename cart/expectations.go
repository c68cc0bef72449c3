package cart

import "github.com/yashrajoria/storefront-core/models"

type lineExpectation struct {
	present  bool
	quantity int // exact quantity when > 0 and exact is set
	exact    bool
	minimum  int
}

type expectations map[models.LineKey]lineExpectation

// expectationsFor derives what the cart must look like once ops have propagated. Later ops on
// the same line override earlier ones.
func expectationsFor(ops []models.LineOp) expectations {
	want := make(expectations, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case models.LineOpAdd:
			want[op.Key] = lineExpectation{present: true, minimum: op.Quantity}
		case models.LineOpSetQuantity:
			if op.Quantity == 0 {
				want[op.Key] = lineExpectation{present: false}
			} else {
				want[op.Key] = lineExpectation{present: true, exact: true, quantity: op.Quantity}
			}
		case models.LineOpRemove:
			want[op.Key] = lineExpectation{present: false}
		}
	}
	return want
}

func (e expectations) satisfiedBy(snap models.CartSnapshot) bool {
	for key, want := range e {
		line, ok := snap.Find(key)
		if ok != want.present {
			return false
		}
		if !ok {
			continue
		}
		if want.exact && line.Quantity != want.quantity {
			return false
		}
		if line.Quantity < want.minimum {
			return false
		}
	}
	return true
}
