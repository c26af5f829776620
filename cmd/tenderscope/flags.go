package main

import (
	"github.com/spf13/cobra"

	"tenderscope/internal/association"
)

// miningFlags overrides the configured association bounds for one command.
// Only flags set on the command line replace the config values.
type miningFlags struct {
	cmd              *cobra.Command
	minSupport       float64
	minConfidence    float64
	minItemFrequency int
	maxVocabulary    int
	maxLen           int
}

func (m *miningFlags) register(cmd *cobra.Command) {
	m.cmd = cmd
	f := cmd.Flags()
	f.Float64Var(&m.minSupport, "min-support", 0, "Minimum itemset support in (0, 1] (overrides the config)")
	f.Float64Var(&m.minConfidence, "min-confidence", 0, "Minimum rule confidence in [0, 1] (overrides the config)")
	f.IntVar(&m.minItemFrequency, "min-item-frequency", 0, "Baskets an item must appear in to be kept (overrides the config)")
	f.IntVar(&m.maxVocabulary, "max-vocabulary", 0, "Most frequent items kept, 0 keeps all (overrides the config)")
	f.IntVar(&m.maxLen, "max-len", 0, "Largest itemset size (overrides the config)")
}

// apply copies the changed flags onto p. Ranges are checked afterwards by
// the config validation.
func (m *miningFlags) apply(p *association.Params) {
	if m.cmd == nil {
		return
	}
	f := m.cmd.Flags()
	if f.Changed("min-support") {
		p.MinSupport = m.minSupport
	}
	if f.Changed("min-confidence") {
		p.MinConfidence = m.minConfidence
	}
	if f.Changed("min-item-frequency") {
		p.MinItemFrequency = m.minItemFrequency
	}
	if f.Changed("max-vocabulary") {
		p.MaxVocabulary = m.maxVocabulary
	}
	if f.Changed("max-len") {
		p.MaxLen = m.maxLen
	}
}
