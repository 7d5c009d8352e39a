package models

// LinkPrior carries Beta counts for one cause -> effect pair. Priors produced
// by training are deltas on top of the uniform prior.
type LinkPrior struct {
	Cause  string  `json:"cause" yaml:"cause"`
	Effect string  `json:"effect" yaml:"effect"`
	Alpha  float64 `json:"alpha" yaml:"alpha"`
	Beta   float64 `json:"beta" yaml:"beta"`
}
