package domain

// Direction describes whether a feature pushes the score up or down.
type Direction string

const (
	DirectionIncreases Direction = "increases risk"
	DirectionDecreases Direction = "decreases risk"
)

// DirectionOf returns the direction of a contribution. Zero counts as
// decreasing.
func DirectionOf(contribution float64) Direction {
	if contribution > 0 {
		return DirectionIncreases
	}
	return DirectionDecreases
}

// Contribution shows how one feature moved the logit of a transaction.
type Contribution struct {
	Feature      string    `json:"feature"`
	Value        float64   `json:"value"`
	Weight       float64   `json:"weight"`
	Contribution float64   `json:"contribution"` // weight * value
	Direction    Direction `json:"direction"`
}

// Explanation decomposes one transaction's score.
// ContributionSum covers every feature, so ContributionSum + Bias == Logit
// even when Contributions is truncated.
type Explanation struct {
	Index           int            `json:"index"`
	ModelVersion    string         `json:"modelVersion"`
	Method          string         `json:"method"`
	Probability     float64        `json:"fraudProbability"`
	Logit           float64        `json:"logit"`
	Bias            float64        `json:"bias"`
	ContributionSum float64        `json:"contributionSum"`
	TopN            int            `json:"topN"`
	Contributions   []Contribution `json:"contributions"`
}
