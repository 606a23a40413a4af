package automation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeflow/internal/extract"
	"tradeflow/internal/models"
	"tradeflow/internal/packets"
)

// Price sources recorded on auto-alerts.
const (
	PriceFromEntryZone    = "entry_zone"
	PriceFromEntryRange   = "entry_range_midpoint"
	PriceFromCurrentPrice = "current_price"
	PriceFromDefault      = "default"
)

const autoAlertCooldownMinutes = 60

// TriggerPrice picks the alert trigger price of a trade plan: the entry
// zone, else the midpoint of the entry range, else the current price, else 0.
func TriggerPrice(e *models.Envelope) (decimal.Decimal, string) {
	if entry, ok := extract.FirstValue(e, extract.PlanEntry); ok {
		if d, ok := toDecimal(entry); ok {
			return d, PriceFromEntryZone
		}
		if obj, ok := entry.(map[string]interface{}); ok {
			if d, ok := toDecimal(obj["zone"]); ok {
				return d, PriceFromEntryZone
			}
			low, okLow := toDecimal(obj["low"])
			high, okHigh := toDecimal(obj["high"])
			if okLow && okHigh {
				return low.Add(high).Div(decimal.NewFromInt(2)), PriceFromEntryRange
			}
		}
	}
	if d, ok := extract.FirstNumber(e, extract.CurrentPrice); ok {
		return decimal.NewFromFloat(d), PriceFromCurrentPrice
	}
	return decimal.Zero, PriceFromDefault
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

type planRef struct {
	PlanID     string
	Symbol     string
	WorkflowID string
	PacketID   string
	RiskScore  *float64
}

func planRefOf(e *models.Envelope) (planRef, bool) {
	ref := planRef{
		Symbol:     extract.SymbolOf(e),
		WorkflowID: e.Correlation.WorkflowID,
	}
	ref.PlanID, _ = extract.FirstString(e, extract.PlanID)
	if ref.PlanID == "" || ref.Symbol == "" || ref.WorkflowID == "" {
		return ref, false
	}
	ref.PacketID, _ = packets.PacketIDFor(e)
	if v, ok := extract.FirstNumber(e, extract.RiskScore); ok {
		ref.RiskScore = &v
	}
	return ref, true
}

func (o *Orchestrator) planAlert(ctx context.Context, e *models.Envelope) error {
	ref, ok := planRefOf(e)
	if !ok {
		return nil
	}

	// dedup is keyed by (workflow, plan) alone; a replay may spell the symbol differently
	active, err := o.store.ListActiveSmartAlerts(ctx, o.workspaceID, "")
	if err != nil {
		return err
	}
	for _, a := range active {
		c := a.SmartAlertContext
		if c.Source == models.AlertSourceWorkflow && c.WorkflowID == ref.WorkflowID && c.PlanID == ref.PlanID {
			o.markAlerted(ref.PacketID, e.EventID)
			return nil
		}
	}

	decision := o.runtime.CheckAutoAlert(ref.RiskScore)
	if !decision.Allowed {
		payload := map[string]interface{}{
			"reason_code": decision.ReasonCode,
			"reason":      decision.Reason,
			"plan_id":     ref.PlanID,
			"symbol":      ref.Symbol,
		}
		if ref.PacketID != "" {
			payload["decision_packet_id"] = ref.PacketID
		}
		o.emit(o.derive(e, models.EventAutoAlertBlocked, payload))
		o.result.GovernorBlocks++
		return nil
	}

	price, source := TriggerPrice(e)
	assetType := string(models.MarketStocks)
	if m, ok := extract.FirstString(e, extract.Market); ok {
		if nm := extract.NormalizeMarket(m); nm != "" {
			assetType = string(nm)
		}
	}
	riskScore := 0.0
	if ref.RiskScore != nil {
		riskScore = *ref.RiskScore
	}

	alert := &models.Alert{
		ID:              o.opts.NewID(),
		WorkspaceID:     o.workspaceID,
		Symbol:          ref.Symbol,
		AssetType:       assetType,
		ConditionType:   "price_above",
		ConditionValue:  price.Round(4).InexactFloat64(),
		Name:            fmt.Sprintf("Auto: %s plan %s", ref.Symbol, ref.PlanID),
		Notes:           fmt.Sprintf("Created from trade plan %s in workflow %s", ref.PlanID, ref.WorkflowID),
		IsActive:        true,
		NotifyPush:      true,
		IsSmartAlert:    true,
		CooldownMinutes: autoAlertCooldownMinutes,
		CreatedAt:       o.opts.Now(),
		SmartAlertContext: models.SmartAlertContext{
			Source:           models.AlertSourceWorkflow,
			WorkflowID:       ref.WorkflowID,
			PlanID:           ref.PlanID,
			DecisionPacketID: ref.PacketID,
			EventID:          e.EventID,
			RiskScore:        riskScore,
			PriceSource:      source,
		},
	}
	if err := o.store.InsertAlert(ctx, alert); err != nil {
		return err
	}

	o.runtime.RecordAutoAlert()
	o.result.AlertsCreated++
	o.markAlerted(ref.PacketID, e.EventID)
	return nil
}

func (o *Orchestrator) markAlerted(packetID, eventID string) {
	if packetID == "" {
		return
	}
	o.result.AlertedPackets = append(o.result.AlertedPackets, AlertedPacket{PacketID: packetID, EventID: eventID})
}
