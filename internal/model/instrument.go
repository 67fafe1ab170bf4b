package model

// Instrument is one row of the upstream instrument list. Every attribute is
// an opaque display string kept exactly as received; Code is the primary key.
type Instrument struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	ListCount        string `json:"listCount"`
	AuditInfo        string `json:"auditInfo"`
	RegDay           string `json:"regDay"`
	LastPrice        string `json:"lastPrice"`
	State            string `json:"state"`
	MarketCode       string `json:"marketCode"`
	MarketName       string `json:"marketName"`
	UpName           string `json:"upName"`
	UpSizeName       string `json:"upSizeName"`
	CompanyClassName string `json:"companyClassName"`
	OrderWarning     string `json:"orderWarning"`
	NxtEnable        string `json:"nxtEnable"`
}

// IsStockCode reports whether s already looks like an instrument code
// (exactly six ASCII digits) rather than a human-entered name.
func IsStockCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
