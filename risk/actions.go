// risk/actions.go
package risk

import (
	"fmt"

	"ironbeam_auto_go/position"
)

// StopLossMove instructs the executor to amend the protective stop of a
// managed position. It is returned by the breakeven engine and carries
// everything the order-amendment port needs.
type StopLossMove struct {
	AccountID   string
	OrderID     string
	Quantity    int
	NewStopLoss float64
	Level       int // breakeven level index that fired (0-based)
}

// Apply records the amendment on the position state: the level is burned
// and the stop leg updated. Called once the broker has accepted the move;
// an unapplied move leaves the state untouched, so the engine proposes it
// again on the next evaluation.
func (a *StopLossMove) Apply(st *position.State) {
	st.FiredBreakevenLevels = append(st.FiredBreakevenLevels, a.Level)
	st.SetStopLoss(a.NewStopLoss)
}

func (a *StopLossMove) Description() string {
	return fmt.Sprintf("Breakeven move %d: SL of order %s to %.4f", a.Level+1, a.OrderID, a.NewStopLoss)
}
