package position

import (
	"strings"

	"signalbridge/internal/model"
)

// 持仓里可能出现的合约标识字段，按优先级排列
var identifierFields = []func(p model.BrokerPosition) string{
	func(p model.BrokerPosition) string { return p.Symbol },
	func(p model.BrokerPosition) string { return p.ContractName },
	func(p model.BrokerPosition) string { return p.InstrumentName },
}

// ResolveInstrument 从券商持仓中取出可下单的合约标识。
// 依次取 symbol、contractName、instrument，都没有时用 contractId。
func ResolveInstrument(p model.BrokerPosition) (model.Instrument, bool) {
	for _, field := range identifierFields {
		if name := strings.TrimSpace(field(p)); name != "" {
			return model.Instrument{Symbol: name, ContractID: p.ContractID}, true
		}
	}
	if p.ContractID != 0 {
		return model.Instrument{ContractID: p.ContractID}, true
	}
	return model.Instrument{}, false
}

// matchesSymbol 名称相同或以信号品种为前缀（NQ 匹配 NQZ5）。
// 只有 contractId 的记录无法判断归属，按匹配处理。
func matchesSymbol(inst model.Instrument, symbol string) bool {
	if symbol == "" {
		return true
	}
	if inst.Symbol == "" {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(inst.Symbol), strings.ToUpper(symbol))
}
