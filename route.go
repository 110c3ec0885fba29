package protocolbanks

// ChooseRoute picks the settlement path for a chain. An explicit preference
// is honored as stated; otherwise the zero-fee facilitator wins whenever the
// chain supports it. Pure function, same inputs always yield the same route.
func ChooseRoute(chainID int, preference RoutePreference) SettlementRoute {
	switch preference {
	case RoutePreferFacilitator:
		return RouteFacilitator
	case RoutePreferRelayer:
		return RouteRelayer
	}
	if IsFacilitatorChain(chainID) {
		return RouteFacilitator
	}
	return RouteRelayer
}

// settlementPath maps a route to its backend endpoint.
func settlementPath(route SettlementRoute) string {
	if route == RouteFacilitator {
		return "/x402/settle"
	}
	return "/x402/submit"
}
