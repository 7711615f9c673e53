// position/position.go
package position

// Side defines the direction of a managed position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign returns the favorable price direction: +1 for LONG, -1 for SHORT.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// TriggerMode selects how profit triggers are measured.
type TriggerMode string

const (
	// Ticks measures profit as raw price distance from entry.
	Ticks TriggerMode = "ticks"
	// Percentage measures profit as a percentage of the entry price.
	Percentage TriggerMode = "percentage"
)

// State tracks everything the management engines need to know about one
// open bracket position. A State instance is owned by exactly one executor;
// only that executor's evaluation pass may mutate it, so no locking is
// needed here.
type State struct {
	OrderID    string
	AccountID  string
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   int
	TickSize   float64 // 0 means no tick rounding on amendments

	// Current protective legs. nil means the leg is not placed yet.
	CurrentStopLoss   *float64
	CurrentTakeProfit *float64

	// Trigger bookkeeping. Levels fire at most once and strictly in
	// ascending index order, so the slices only ever grow by appending
	// the next index.
	FiredBreakevenLevels []int
	FiredProfitLevels    []int

	// HighWaterMark is the most favorable price observed since the
	// position was registered, used for trailing calculations.
	HighWaterMark *float64
}

// FavorableExcursion returns the signed distance of price from entry in
// the direction that benefits this position.
func (s *State) FavorableExcursion(price float64) float64 {
	return (price - s.EntryPrice) * s.Side.Sign()
}

// ObserveExtreme folds a new price into the high-water mark. The mark only
// moves in the favorable direction; pullbacks never touch it.
func (s *State) ObserveExtreme(price float64) {
	if s.HighWaterMark == nil || (price-*s.HighWaterMark)*s.Side.Sign() > 0 {
		p := price
		s.HighWaterMark = &p
	}
}

// ImprovesStopLoss reports whether candidate is strictly more favorable
// than the current stop loss. With no stop loss placed, any candidate
// counts as an improvement.
func (s *State) ImprovesStopLoss(candidate float64) bool {
	if s.CurrentStopLoss == nil {
		return true
	}
	return (candidate-*s.CurrentStopLoss)*s.Side.Sign() > 0
}

// ImprovesTakeProfit reports whether candidate moves the take profit
// strictly in the favorable direction.
func (s *State) ImprovesTakeProfit(candidate float64) bool {
	if s.CurrentTakeProfit == nil {
		return true
	}
	return (candidate-*s.CurrentTakeProfit)*s.Side.Sign() > 0
}

// SetStopLoss records an applied stop loss amendment.
func (s *State) SetStopLoss(price float64) {
	p := price
	s.CurrentStopLoss = &p
}

// SetTakeProfit records an applied take profit amendment.
func (s *State) SetTakeProfit(price float64) {
	p := price
	s.CurrentTakeProfit = &p
}
