package registry

import "sync"

const (
	pathStockInfo = "/api/dostk/stkinfo"
	pathMarket    = "/api/dostk/mrkcond"
	pathForeign   = "/api/dostk/frgnistt"
	pathSector    = "/api/dostk/sect"
	pathShort     = "/api/dostk/shsa"
)

// InstrumentListID is the query that refreshes the instrument table.
const InstrumentListID = "ka10099"

// Catalog returns the built-in query table.
func Catalog() []Descriptor {
	return []Descriptor{
		{QueryID: InstrumentListID, Alias: "listInstruments", Title: "종목정보 리스트", Path: pathStockInfo,
			RequiredFields: []string{"mrkt_tp"}, Result: Field("$.list"), WriteThrough: true},
		{QueryID: "ka10001", Alias: "stockInfo", Title: "주식기본정보", Path: pathStockInfo,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10002", Alias: "tradingMembers", Title: "주식거래원", Path: pathStockInfo,
			RequiredFields: []string{"stk_cd"}, Result: Members()},
		{QueryID: "ka10004", Alias: "orderBook", Title: "주식호가", Path: pathMarket,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10005", Alias: "periodQuotes", Title: "주식일주월시분", Path: pathMarket,
			RequiredFields: []string{"stk_cd"}, Result: Field("$.stk_ddwkmm")},
		{QueryID: "ka10006", Alias: "timeQuote", Title: "주식시분", Path: pathMarket,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10007", Alias: "priceTable", Title: "시세표성정보", Path: pathMarket,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10008", Alias: "foreignTrades", Title: "주식외국인종목별매매동향", Path: pathForeign,
			RequiredFields: []string{"stk_cd"}, Result: Field("$.stk_frgnr")},
		{QueryID: "ka10009", Alias: "institutionTrades", Title: "주식기관", Path: pathForeign,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10010", Alias: "sectorProgram", Title: "업종프로그램", Path: pathSector,
			RequiredFields: []string{"stk_cd"}, Result: Whole()},
		{QueryID: "ka10011", Alias: "rightsQuotes", Title: "신주인수권전체시세", Path: pathMarket,
			RequiredFields: []string{"newstk_recvrht_tp"}, Result: List("$.newstk_recvrht_mrpr")},
		{QueryID: "ka10013", Alias: "creditTrend", Title: "신용매매동향", Path: pathStockInfo,
			RequiredFields: []string{"stk_cd", "dt", "qry_tp"}, Result: List("$.crd_trde_trend")},
		{QueryID: "ka10014", Alias: "shortSelling", Title: "공매도추이", Path: pathShort,
			RequiredFields: []string{"stk_cd", "tm_tp", "strt_dt", "end_dt"}, Result: List("$.shrts_trnsn")},
		{QueryID: "ka10015", Alias: "dailyTradeDetail", Title: "일별거래상세", Path: pathStockInfo,
			RequiredFields: []string{"stk_cd", "strt_dt"}, Result: List("$.daly_trde_dtl")},
		{QueryID: "ka10016", Alias: "newHighLow", Title: "신고저가", Path: pathStockInfo,
			RequiredFields: []string{"mrkt_tp", "ntl_tp", "high_low_close_tp", "stk_cnd", "trde_qty_tp",
				"crd_cnd", "updown_incls", "dt", "stex_tp"},
			Result: List("$.ntl_pric")},
		{QueryID: "ka10017", Alias: "limitUpDown", Title: "상하한가", Path: pathStockInfo,
			RequiredFields: []string{"mrkt_tp", "updown_tp", "sort_tp", "stk_cnd", "trde_qty_tp",
				"crd_cnd", "trde_gold_tp", "stex_tp"},
			Result: List("$.updown_pric")},
		{QueryID: "ka10018", Alias: "nearHighLow", Title: "고저가근접", Path: pathStockInfo,
			RequiredFields: []string{"high_low_tp", "alacc_rt", "mrkt_tp", "trde_qty_tp", "stk_cnd",
				"crd_cnd", "stex_tp"},
			Result: List("$.high_low_pric_alacc")},
		{QueryID: "ka10019", Alias: "priceSpike", Title: "가격급등락", Path: pathStockInfo,
			RequiredFields: []string{"mrkt_tp", "flu_tp", "tm_tp", "tm", "trde_qty_tp", "stk_cnd",
				"crd_cnd", "pric_cnd", "updown_incls", "stex_tp"},
			Result: List("$.pric_jmpflu")},
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry built from Catalog. It panics if the
// catalog is inconsistent.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := New(Catalog())
		if err != nil {
			panic(err)
		}
		defaultReg = r
	})
	return defaultReg
}
