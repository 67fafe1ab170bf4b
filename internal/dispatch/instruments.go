package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"stockdesk/internal/model"
)

// ErrNoInstrumentList is wrapped in the TransportError returned when an
// accepted instrument-list reply carries no list array. The stored table is
// left untouched.
var ErrNoInstrumentList = errors.New("response has no instrument list")

// toInstruments converts the selected instrument list into records. Rows
// without a code cannot be keyed and are dropped. The second result is false
// when data is not an array.
func toInstruments(data any) ([]model.Instrument, bool) {
	rows, ok := data.([]any)
	if !ok {
		return nil, false
	}
	out := make([]model.Instrument, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		inst := model.Instrument{
			Code:             field(m, "code"),
			Name:             field(m, "name"),
			ListCount:        field(m, "listCount"),
			AuditInfo:        field(m, "auditInfo"),
			RegDay:           field(m, "regDay"),
			LastPrice:        field(m, "lastPrice"),
			State:            field(m, "state"),
			MarketCode:       field(m, "marketCode"),
			MarketName:       field(m, "marketName"),
			UpName:           field(m, "upName"),
			UpSizeName:       field(m, "upSizeName"),
			CompanyClassName: field(m, "companyClassName"),
			OrderWarning:     field(m, "orderWarning"),
			NxtEnable:        field(m, "nxtEnable"),
		}
		if inst.Code == "" {
			continue
		}
		out = append(out, inst)
	}
	return out, true
}

// field renders an upstream value as the display string it was sent as.
func field(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
