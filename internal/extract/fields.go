package extract

import (
	"sort"
	"strings"

	"tradeflow/internal/models"
)

// PacketID lists where a decision packet identifier may live, highest priority first.
var PacketID = []String{
	PayloadString("decision_packet_id"),
	PayloadString("setup", "decision_packet_id"),
	PayloadString("trade_plan", "setup", "decision_packet_id"),
	PayloadString("links", "decision_packet_id"),
	PayloadString("trade_plan", "links", "decision_packet_id"),
	PayloadString("trade_plan", "decision_packet_id"),
	PayloadString("decision_packet", "id"),
	EntityID("decision_packet", "candidate"),
}

// StatusOverride lists explicit status fields.
var StatusOverride = []String{
	PayloadString("decision_packet_status"),
	PayloadString("decision_packet", "status"),
	PayloadString("status"),
}

// Symbol lists symbol locations.
var Symbol = []String{
	PayloadString("decision_packet", "symbol"),
	PayloadString("symbol"),
	PayloadString("trade_plan", "symbol"),
	PayloadString("trade", "symbol"),
	EntitySymbol,
}

// Market lists market / asset class locations.
var Market = []String{
	PayloadString("decision_packet", "market"),
	PayloadString("market"),
	PayloadString("trade_plan", "market"),
	PayloadString("asset_class"),
	EntityAssetClass,
}

// SignalSource lists signal source locations.
var SignalSource = []String{
	PayloadString("decision_packet", "signalSource"),
	PayloadString("signal_source"),
	PayloadString("trade_plan", "signal_source"),
	PayloadString("source"),
	PayloadString("trade_plan", "source"),
}

// SignalScore lists signal score locations.
var SignalScore = []Number{
	PayloadNumber("decision_packet", "signalScore"),
	PayloadNumber("signal_score"),
	PayloadNumber("score"),
	PayloadNumber("trade_plan", "signal_score"),
}

// Bias lists directional bias locations; long/short are mapped to bullish/bearish.
var Bias = []String{
	PayloadString("decision_packet", "bias"),
	PayloadString("bias"),
	PayloadString("trade_plan", "bias"),
	PayloadString("direction"),
	PayloadString("trade_plan", "direction"),
	PayloadString("side"),
}

// TimeframeBias lists timeframe bias list locations.
var TimeframeBias = []Value{
	PayloadValue("decision_packet", "timeframeBias"),
	PayloadValue("timeframe_bias"),
	PayloadValue("trade_plan", "timeframe_bias"),
}

// EntryZone lists entry zone locations.
var EntryZone = []Value{
	PayloadValue("decision_packet", "entryZone"),
	PayloadValue("entry_zone"),
	PayloadValue("entry"),
	PayloadValue("trade_plan", "entry_zone"),
	PayloadValue("trade_plan", "entry"),
}

// Invalidation lists invalidation / stop locations.
var Invalidation = []Value{
	PayloadValue("decision_packet", "invalidation"),
	PayloadValue("invalidation"),
	PayloadValue("trade_plan", "invalidation"),
	PayloadValue("stop"),
	PayloadValue("trade_plan", "stop"),
	PayloadValue("stop_loss"),
}

// Targets lists target list locations.
var Targets = []Value{
	PayloadValue("decision_packet", "targets"),
	PayloadValue("targets"),
	PayloadValue("trade_plan", "targets"),
}

// RiskScore lists risk score locations.
var RiskScore = []Number{
	PayloadNumber("decision_packet", "riskScore"),
	PayloadNumber("risk_score"),
	PayloadNumber("risk", "score"),
	PayloadNumber("trade_plan", "risk_score"),
	PayloadNumber("trade_plan", "risk", "score"),
}

// VolatilityRegime lists volatility regime locations.
var VolatilityRegime = []String{
	PayloadString("decision_packet", "volatilityRegime"),
	PayloadString("volatility_regime"),
	PayloadString("trade_plan", "volatility_regime"),
}

// OperatorFit lists operator fit score locations.
var OperatorFit = []Number{
	PayloadNumber("decision_packet", "operatorFit"),
	PayloadNumber("operator_fit"),
	PayloadNumber("trade_plan", "operator_fit"),
}

// PlanID lists trade plan id locations.
var PlanID = []String{
	PayloadString("plan_id"),
	PayloadString("trade_plan", "plan_id"),
	PayloadString("trade_plan", "id"),
	PayloadString("links", "plan_id"),
	EntityID("trade_plan", "plan"),
}

// PlanEntry lists the entry object of a trade plan.
var PlanEntry = []Value{
	PayloadValue("entry"),
	PayloadValue("trade_plan", "entry"),
	PayloadValue("entry_zone"),
	PayloadValue("trade_plan", "entry_zone"),
}

// CurrentPrice lists current/last price locations.
var CurrentPrice = []Number{
	PayloadNumber("current_price"),
	PayloadNumber("trade_plan", "current_price"),
	PayloadNumber("price"),
}

// StopLoss lists numeric stop locations.
var StopLoss = []Number{
	PayloadNumber("stop"),
	PayloadNumber("stop_loss"),
	PayloadNumber("trade_plan", "stop"),
	PayloadNumber("invalidation"),
	PayloadNumber("trade_plan", "invalidation"),
}

// FirstTarget lists numeric first-target locations.
var FirstTarget = []Number{
	PayloadNumber("target"),
	PayloadNumber("trade_plan", "target"),
}

// SymbolOf returns the uppercased symbol of env.
func SymbolOf(env *models.Envelope) string {
	s, _ := FirstString(env, Symbol)
	return strings.ToUpper(s)
}

// NormalizeBias maps direction words to bullish/bearish/neutral.
func NormalizeBias(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "long", "buy":
		return "bullish"
	case "bearish", "short", "sell":
		return "bearish"
	case "neutral", "flat":
		return "neutral"
	}
	return ""
}

// NormalizeMarket maps asset classes to a packet market.
func NormalizeMarket(s string) models.Market {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stocks", "stock", "equity", "equities", "etf":
		return models.MarketStocks
	case "crypto", "cryptocurrency":
		return models.MarketCrypto
	case "options", "option":
		return models.MarketOptions
	case "forex", "fx":
		return models.MarketForex
	}
	return ""
}

// StringList converts a JSON array to a list of non-empty strings.
// When sorted is true the result is sorted for order-independent comparison.
func StringList(v interface{}, sorted bool) []string {
	arr, ok := v.([]interface{})
	if !ok {
		if s, ok := AsString(v); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := AsString(item); ok {
			out = append(out, s)
		}
	}
	if sorted {
		sort.Strings(out)
	}
	return out
}
