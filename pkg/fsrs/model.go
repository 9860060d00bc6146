package fsrs

import "math"

// curveFactor fixes the forgetting curve R(t, S) = (1 + t/(curveFactor*S))^-1,
// which puts R at exactly 0.9 after S days.
const curveFactor = 9.0

// minStability keeps stability strictly positive through every update.
const minStability = 0.001

// Model holds a weight set and implements the memory update rules.
// The zero value is unusable; construct with NewModel or DefaultModel.
type Model struct {
	w Weights
}

// NewModel creates a Model after validating the weight set.
func NewModel(w Weights) (Model, error) {
	if err := w.Validate(); err != nil {
		return Model{}, err
	}
	return Model{w: w}, nil
}

// DefaultModel returns a Model using DefaultWeights.
func DefaultModel() Model {
	return Model{w: DefaultWeights}
}

// Weights returns the model's weight set.
func (m Model) Weights() Weights {
	return m.w
}

// Retrievability computes R(t, S) = (1 + t/(9S))^-1.
// stability must be positive; negative elapsed days clamp to 0,
// so R(0, S) == 1 and R decreases monotonically with elapsed time.
func (m Model) Retrievability(stability, elapsedDays float64) float64 {
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return 1.0 / (1.0 + elapsedDays/(curveFactor*stability))
}

// InitialStability returns S₀ for the first-ever rating of a concept.
// Increasing in rating: a confident first recall starts more stable.
func (m Model) InitialStability(r Rating) float64 {
	return clampStability(m.w[r-1])
}

// InitialDifficulty returns D₀ for the first-ever rating of a concept,
// clamped to [1, 10]. Decreasing in rating.
func (m Model) InitialDifficulty(r Rating) float64 {
	return clampDifficulty(m.initialDifficultyRaw(r))
}

// initialDifficultyRaw is D₀(G) = w[4] - (G-3)*w[5], unclamped.
// Good starts exactly at w[4]; each rating step shifts D₀ by w[5].
// The unclamped value is the mean-reversion target in NextDifficulty.
func (m Model) initialDifficultyRaw(r Rating) float64 {
	return m.w[4] - float64(r-3)*m.w[5]
}

// NextDifficulty computes the updated difficulty after a review.
// Low ratings push D up, high ratings pull it down; linear damping
// plus mean reversion toward D₀(Easy) keeps repeated extremes bounded.
// The result is clamped to [1, 10].
func (m Model) NextDifficulty(difficulty float64, r Rating) float64 {
	deltaD := -m.w[6] * (float64(r) - 3)
	damped := difficulty + (10-difficulty)*deltaD/9
	reverted := m.w[7]*m.initialDifficultyRaw(Easy) + (1-m.w[7])*damped
	return clampDifficulty(reverted)
}

// NextStabilityOnSuccess computes stability after a successful recall
// (Hard, Good or Easy). The growth term scales with (1-R): recalling a
// nearly forgotten concept is stronger evidence of durable learning
// than recalling a fresh one. Growth never shrinks stability, so
// S' >= S holds for every success rating.
func (m Model) NextStabilityOnSuccess(difficulty, stability, retrievability float64, r Rating) float64 {
	hardPenalty := 1.0
	if r == Hard {
		hardPenalty = m.w[15]
	}
	easyBonus := 1.0
	if r == Easy {
		easyBonus = m.w[16]
	}
	growth := math.Exp(m.w[8]) *
		(11 - difficulty) *
		math.Pow(stability, -m.w[9]) *
		(math.Exp((1-retrievability)*m.w[10]) - 1) *
		hardPenalty * easyBonus
	return clampStability(stability * (1 + growth))
}

// NextStabilityOnFailure computes stability after a lapse (Again).
// The post-lapse stability is proportionate to pre-lapse difficulty and
// stability but always capped below the pre-lapse value: forgetting is
// a reset, not an erasure.
func (m Model) NextStabilityOnFailure(difficulty, stability, retrievability float64) float64 {
	s := m.w[11] *
		math.Pow(difficulty, -m.w[12]) *
		(math.Pow(stability+1, m.w[13]) - 1) *
		math.Exp((1-retrievability)*m.w[14])
	return clampStability(math.Min(s, stability))
}

// Interval returns the desired interval in days after which
// retrievability decays to desiredRetention: I = S * 9 * (1/retention - 1).
// At the default retention of 0.9 the interval equals the stability.
func (m Model) Interval(stability, desiredRetention float64) float64 {
	return stability * curveFactor * (1/desiredRetention - 1)
}

func clampStability(s float64) float64 {
	return math.Max(s, minStability)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
