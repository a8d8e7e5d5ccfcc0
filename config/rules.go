package config

// IndexRule holds the per-index trading parameters. One flat table instead of
// a type per index; adding an index is a data change.
type IndexRule struct {
	Name       string
	Exchange   string // derivatives segment: NFO, BFO
	SpotToken  string // exchange token of the underlying index
	SpotExch   string // segment of the underlying: NSE, BSE
	LotSize    int64
	StrikeStep int64 // paise between adjacent strikes
}

// indexRules is keyed by index name. Strike steps and lot sizes follow the
// current NSE/BSE contract specs.
var indexRules = map[string]IndexRule{
	"NIFTY": {
		Name:       "NIFTY",
		Exchange:   "NFO",
		SpotToken:  "99926000",
		SpotExch:   "NSE",
		LotSize:    75,
		StrikeStep: 50 * 100,
	},
	"BANKNIFTY": {
		Name:       "BANKNIFTY",
		Exchange:   "NFO",
		SpotToken:  "99926009",
		SpotExch:   "NSE",
		LotSize:    35,
		StrikeStep: 100 * 100,
	},
	"FINNIFTY": {
		Name:       "FINNIFTY",
		Exchange:   "NFO",
		SpotToken:  "99926037",
		SpotExch:   "NSE",
		LotSize:    65,
		StrikeStep: 50 * 100,
	},
	"SENSEX": {
		Name:       "SENSEX",
		Exchange:   "BFO",
		SpotToken:  "99919000",
		SpotExch:   "BSE",
		LotSize:    20,
		StrikeStep: 100 * 100,
	},
}

// RuleFor looks up the rule table for an index name.
func RuleFor(name string) (IndexRule, bool) {
	r, ok := indexRules[name]
	return r, ok
}
