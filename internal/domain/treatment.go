package domain

import "strings"

// TreatmentType identifies the procedure assigned to a detected item.
type TreatmentType string

const (
	TreatmentResin         TreatmentType = "resina"
	TreatmentPorcelain     TreatmentType = "porcelana"
	TreatmentImplant       TreatmentType = "implante"
	TreatmentCrown         TreatmentType = "coroa"
	TreatmentRootCanal     TreatmentType = "endodontia"
	TreatmentReferral      TreatmentType = "encaminhamento"
	TreatmentGingivoplasty TreatmentType = "gengivoplastia"
	TreatmentRootCoverage  TreatmentType = "recobrimento_radicular"
)

// DefaultTreatment is the last fallback of the effective-treatment chain.
const DefaultTreatment = TreatmentResin

// ProtocolStrategy names how protocol content is produced for a treatment.
type ProtocolStrategy string

const (
	StrategyResin       ProtocolStrategy = "resin"
	StrategyCementation ProtocolStrategy = "cementation"
	StrategyGeneric     ProtocolStrategy = "generic"
)

var treatmentAliases = map[string]TreatmentType{
	"resina":                 TreatmentResin,
	"resin":                  TreatmentResin,
	"composite":              TreatmentResin,
	"composite resin":        TreatmentResin,
	"resina composta":        TreatmentResin,
	"porcelana":              TreatmentPorcelain,
	"porcelain":              TreatmentPorcelain,
	"porcelain veneer":       TreatmentPorcelain,
	"veneer":                 TreatmentPorcelain,
	"faceta":                 TreatmentPorcelain,
	"faceta de porcelana":    TreatmentPorcelain,
	"ceramic":                TreatmentPorcelain,
	"ceramica":               TreatmentPorcelain,
	"implante":               TreatmentImplant,
	"implant":                TreatmentImplant,
	"coroa":                  TreatmentCrown,
	"crown":                  TreatmentCrown,
	"endodontia":             TreatmentRootCanal,
	"root canal":             TreatmentRootCanal,
	"root_canal":             TreatmentRootCanal,
	"endodontic":             TreatmentRootCanal,
	"endodontics":            TreatmentRootCanal,
	"canal":                  TreatmentRootCanal,
	"encaminhamento":         TreatmentReferral,
	"referral":               TreatmentReferral,
	"refer":                  TreatmentReferral,
	"gengivoplastia":         TreatmentGingivoplasty,
	"gingivoplasty":          TreatmentGingivoplasty,
	"recobrimento_radicular": TreatmentRootCoverage,
	"recobrimento radicular": TreatmentRootCoverage,
	"root coverage":          TreatmentRootCoverage,
	"root_coverage":          TreatmentRootCoverage,
}

// NormalizeTreatment maps English and Portuguese aliases onto the canonical
// treatment identifiers. Matching is case-insensitive and ignores surrounding
// whitespace and hyphens. Unknown values come back lower-cased so the
// function stays idempotent.
func NormalizeTreatment(raw string) TreatmentType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Join(strings.Fields(strings.ReplaceAll(key, "-", " ")), " ")
	if key == "" {
		return ""
	}
	if t, ok := treatmentAliases[key]; ok {
		return t
	}
	return TreatmentType(key)
}

// Known reports whether t is one of the canonical treatment identifiers.
func (t TreatmentType) Known() bool {
	switch t {
	case TreatmentResin, TreatmentPorcelain, TreatmentImplant, TreatmentCrown,
		TreatmentRootCanal, TreatmentReferral, TreatmentGingivoplasty, TreatmentRootCoverage:
		return true
	}
	return false
}

// Strategy returns the protocol-generation strategy for t.
func (t TreatmentType) Strategy() ProtocolStrategy {
	switch t {
	case TreatmentResin:
		return StrategyResin
	case TreatmentPorcelain:
		return StrategyCementation
	default:
		return StrategyGeneric
	}
}

// UsesAIProtocol reports whether protocol content for t comes from a remote
// generator whose result is shared across a treatment bucket.
func (t TreatmentType) UsesAIProtocol() bool {
	return t.Strategy() != StrategyGeneric
}

// FirstTreatment returns the first non-empty candidate.
func FirstTreatment(candidates ...TreatmentType) TreatmentType {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
