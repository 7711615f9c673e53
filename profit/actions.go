// profit/actions.go
package profit

import (
	"fmt"

	"ironbeam_auto_go/position"
)

// Candidate sources, recorded on the move for logging and metrics.
const (
	SourceTrailing    = "trailing"
	SourceProfitLevel = "profit_level"
	SourceSRLevel     = "sr_level"
)

// TakeProfitMove instructs the executor to amend the take profit leg of a
// managed position.
type TakeProfitMove struct {
	AccountID     string
	OrderID       string
	Quantity      int
	NewTakeProfit float64
	Source        string // which strategy produced the winning candidate

	// level is the profit trigger index this move consumes, -1 for moves
	// from the other strategies.
	level int
}

// Apply records the amendment on the position state once the broker has
// accepted it. A profit-level move also burns the trigger that produced
// it; an unapplied move leaves the state untouched, so the engine
// proposes it again on the next evaluation.
func (a *TakeProfitMove) Apply(st *position.State) {
	if a.level >= 0 {
		st.FiredProfitLevels = append(st.FiredProfitLevels, a.level)
	}
	st.SetTakeProfit(a.NewTakeProfit)
}

func (a *TakeProfitMove) Description() string {
	return fmt.Sprintf("Running TP (%s): TP of order %s to %.4f", a.Source, a.OrderID, a.NewTakeProfit)
}
